package mix

import "crypto/sha256"

// DeriveTextKey derives the pre-shared key used to seal text-typed Final
// Envelope payloads (§4.6 step 4) from the node's File Key. §9 leaves the
// text key's provenance unspecified; deriving it from a key the Sealed
// Envelope already holds avoids a separate key the operator has to manage.
func DeriveTextKey(fileKey []byte) []byte {
	sum := sha256.Sum256(append([]byte("meshnode-mix-text-key:"), fileKey...))
	return sum[:]
}
