package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the bearer
// token on requests to a remote host.
const AccessTokenHeaderName = "access_token"

// PathHeaderName is the gRPC metadata key carrying the logical remote path
// an operation applies to.
const PathHeaderName = "x-vault-path"

// DefaultKDFRounds is the PBKDF2 iteration count used for fresh vaults.
const DefaultKDFRounds = 100000
