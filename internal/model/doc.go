// Package model defines the shared data types of the live call feed.
//
// All types mirror the item schema served by the dispatch-calls REST API
// and the /ws/calls stream.
//
// Conventions:
//   - Keys: a call's CAD number is its stable identity
//   - Timestamps: time.Time in UTC
//   - Coordinates: WGS84 degrees; orb.Point is {lng, lat}
package model
