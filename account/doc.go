// Package account defines the principal document model shared by the engine
// and its durable stores, together with the in-document session ledger
// mutations.
//
// The engine is polymorphic over account kinds: each role is served by its
// own [PrincipalStore], and every mutation goes through
// [PrincipalStore.UpdateByID] so implementations can apply it as one atomic
// read-modify-write.
package account
