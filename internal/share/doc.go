// Package share provides the identity and position types shared by every
// log stream component.
//
// This package imports nothing internal. All other internal packages may
// import share; share imports nothing from them.
//
// Key design constraints:
//   - Log positions (LSN) and logical times (SCN) are distinct types so a
//     position can never be compared against a time by accident
//   - Invalid sentinels are explicit values, never the zero value of a
//     field that can legitimately be zero
//   - String forms are upper snake case and round-trip through Parse*
package share
