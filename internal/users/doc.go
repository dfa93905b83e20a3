// Package users manages agent accounts: creation, role changes and
// activation. Accounts are never deleted, since messages and activity
// rows keep pointing at their authors. Deactivating an account locks it
// out of the API on its next request.
package users
