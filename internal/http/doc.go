// Package http provides HTTP handlers and middleware for the room scheduling API.
//
// Every route except /healthz requires an `Authorization: Bearer <token>`
// header. The router exposes:
//   - POST /reservations: books a room. Body: {"workspaceId","roomId","startAt","endAt",
//     "subject","criticality"}. 201 with {"reservation"}; 400 INVALID_TIME_RANGE or
//     VALIDATION_ERROR, including unknown fields and malformed JSON; 401 UNAUTHORIZED; 409 BOOKING_OVERLAP.
//   - GET /reservations?workspaceId=&roomId=&from=&to=&includeCancelled=: lists the
//     reservations intersecting [from, to), ordered by start.
//   - GET /reservations/{id}, PATCH /reservations/{id}: reads or moves, resizes and
//     edits a reservation. PATCH answers like POST plus 404 NOT_FOUND.
//   - POST /reservations/{id}/cancel: cancels a reservation. Repeating the call
//     returns 200 with the already cancelled reservation.
//   - GET /rooms?workspaceId=, POST /rooms, GET|PUT|DELETE /rooms/{id}: room catalog.
//     Mutations require the workspace admin role.
//   - GET /rooms/{id}/availability?date=YYYY-MM-DD: free slots inside the workspace
//     schedule window on a workspace-local date.
//   - GET /workspaces/{id}: timezone, schedule window and granularity.
//   - GET /healthz: store reachability.
//
// Instants cross the boundary as RFC 3339 UTC strings with
// sub-second digits kept. Errors use the body
// {"error_code","message","errors"}; 429 RATE_LIMITED and 503 SERVICE_UNAVAILABLE
// may be returned by any write.
package http
