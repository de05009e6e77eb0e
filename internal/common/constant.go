package common

// AccessTokenHeaderName is the gRPC metadata key carrying the device token
// issued by the facility on registration.
const AccessTokenHeaderName = "access_token"

// ProtocolVersion is advertised in every session handshake. Peers with a
// different value are rejected.
const ProtocolVersion uint32 = 1
