// Package authstate holds the client side authentication core of the portal:
// a store owning the AuthState aggregate, the profile resolvers, the listener
// that bridges provider events into store transitions, and the route guards.
//
// Session store:
//   - Store applies typed actions through Reduce. The listener dispatches
//     SetSession transitions, Client dispatches the pending, fulfilled and
//     rejected transitions of user initiated sign in, sign up and sign out.
//   - Initialized flips to true once and never reverts. Role is always the
//     role of the stored profile and a nil session clears the identity.
//
// Profile resolution:
//   - MetadataResolver builds the profile out of the session user metadata.
//   - LookupResolver reads the authoritative profiles table with a per attempt
//     deadline and a bounded constant backoff. When every attempt fails it
//     substitutes a least privilege profile and flags it as a fallback.
//   - Pick one per process. Metadata profiles can drift from the table.
//
// Route guards:
//   - SessionGuard and RoleGuard turn a state snapshot into a Decision:
//     loading, redirect to login, waiting for the profile, unauthorized or
//     authorized. Role comparison goes through CanonicalRole so the spanish
//     and english aliases are interchangeable.
package authstate
