// Package gateway talks to the grott server's inverter endpoint.
//
// The gateway exposes one path, /inverter, driven by query parameters:
//
//	GET  /inverter?command=register&inverter=S&register=N           read
//	PUT  /inverter?command=register&inverter=S&register=N&value=V   write
//	PUT  /inverter?command=multiregister&inverter=S&startregister=A&endregister=B&value=HEX
//
// Client is a thin transport: it applies a per-request timeout and a
// shared rate limit, and returns the status and body. Retry policy and
// success classification belong to the caller.
package gateway
