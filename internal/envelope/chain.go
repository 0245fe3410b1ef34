package envelope

// ChainBlock is an append-only record linking a stored ciphertext into a
// per-node hash chain (§3).
type ChainBlock struct {
	Hash        string `json:"hash"`
	PrevHash    string `json:"prev_hash"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	CreatedUnix int64  `json:"created_unix"`
	OriginID    string `json:"origin_id"`
}
