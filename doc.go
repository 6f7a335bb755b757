// Package connect implements the Customer Connect portal: a three step
// customer registration wizard gated by OTP verification and geolocation,
// and a staff area protected by role based screen permissions.
//
// Registration:
//   - The in flight registration lives in a single strict same site cookie
//     (the envelope) that expires ten minutes after its last write. Every
//     request restores a Wizard from it, applies one action and writes it back.
//   - Wizard enforces the step graph and per step validation. Lookups for the
//     mobile number and pin code carry a generation so only the latest one
//     issued for a field is applied.
//   - OTPGate drives submission, OTP delivery, resend countdown and
//     verification. A verified OTP drops every cookie, stores the issued
//     credential and grants a time boxed QR display.
//
// Staff area:
//   - Resolver refreshes the role/screen permission list in the background
//     and keeps the last good snapshot when the backend fails.
//   - The guard middleware reconciles the signed user cookie against the
//     snapshot and redirects requests for screens the role does not hold.
//
// Activity sinks:
//   - ActivitySink receives registration, OTP, guard and staff events. Sinks
//     run best effort (errors are logged) so forwarding never blocks a request.
package connect
