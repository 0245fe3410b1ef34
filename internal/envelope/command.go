package envelope

// SyncCommandType enumerates the two operations the local encryption tool
// can broadcast across the mesh (§3).
type SyncCommandType string

const (
	CommandEncrypt SyncCommandType = "encrypt"
	CommandDecrypt SyncCommandType = "decrypt"
)

// SyncCommand is carried over the peer-facing HTTP surface with the same
// loop-suppression discipline as replication (§3/§4.7).
type SyncCommand struct {
	Type       SyncCommandType `json:"type"`
	FolderPath string          `json:"folder_path"`
	Recursive  bool            `json:"recursive"`
	OriginNode string          `json:"origin_node"`
	MsgID      string          `json:"msg_id"`
	Timestamp  int64           `json:"timestamp"`
}
