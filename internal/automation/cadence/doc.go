// Package cadence implements the closed set of strategies deciding whether an
// automation rule is eligible to fire at a given instant.
//
// Each strategy is a pure function of (now, rule spec, anchor events). Adding
// a cadence means adding a variant here, not editing a branching tree spread
// across the engine.
package cadence
