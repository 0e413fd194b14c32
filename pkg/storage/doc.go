// Package storage contains the Instance Store contract, so that different persistence layers can be implemented.
//
// Interfaces in this package must:
//   - return ErrNotFound if the method is looking for one exact item in the database and it is not found
//   - return empty array for methods that can return multiple results and no result is found
//   - make all writes of a Tx visible to its own reads and to nobody else until Commit
//   - serialize transactions that write, so a multi-instance host is never evaluated on stale rows
package storage
