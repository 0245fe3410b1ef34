package escrow

import "time"

// Record is the gorm-mapped Key Escrow Record of §3: a durable row keyed
// by content hash, holding the artifact's symmetric key sealed at rest
// under the service's master key.
type Record struct {
	FileHash     string `gorm:"primaryKey;column:file_hash"`
	OriginNodeID string `gorm:"column:origin_node_id;index"`
	// KeyEncrypted is nonce || ciphertext, AEAD-sealed under the master
	// key (§4.8).
	KeyEncrypted []byte    `gorm:"column:key_encrypted"`
	FileName     string    `gorm:"column:file_name"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName pins the table name so renaming the Go type never migrates
// data under a new name.
func (Record) TableName() string { return "key_escrow_records" }
