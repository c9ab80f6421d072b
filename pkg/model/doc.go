// Package model defines the node and value types synchronized with the node daemon.
//
// A Node is owned by the daemon. Most of its fields mirror hardware facts
// (manufacturer, product, device classes) and are never edited locally. Only
// three things may change on the client side:
//   - the node name
//   - the node location
//   - a value's current string representation, plus the transient
//     button-press intent of write-only values
//
// Local edits are expressed as a NodePatch and held in a Draft until they are
// sent. Changed implements the predicate that decides whether a draft differs
// from the last confirmed node.
package model
