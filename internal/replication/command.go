package replication

import (
	"context"
	"time"

	"github.com/meshnode/meshnode/internal/directory"
	"github.com/meshnode/meshnode/internal/envelope"
	"github.com/meshnode/meshnode/internal/seenset"
)

// CommandTransport forwards a Sync Command to a single peer's
// /p2p/command endpoint.
type CommandTransport interface {
	ForwardCommand(ctx context.Context, peerAddr string, cmd envelope.SyncCommand) error
}

// CommandBroadcaster carries encrypt/decrypt Sync Commands across the mesh
// with the same loop-suppression discipline as replication (§4.7). It
// keeps its own seen-set since commands and replication envelopes use
// independent msg-id spaces.
type CommandBroadcaster struct {
	SelfNodeID string
	Seen       *seenset.Set
	Directory  *directory.Directory
	Transport  CommandTransport
	// OnCommand is invoked asynchronously for every newly admitted command,
	// including the one this node itself originates.
	OnCommand func(envelope.SyncCommand)
}

// NewCommandBroadcaster constructs a CommandBroadcaster with its own
// bounded seen-set.
func NewCommandBroadcaster(selfNodeID string, dir *directory.Directory, transport CommandTransport, onCommand func(envelope.SyncCommand)) *CommandBroadcaster {
	return &CommandBroadcaster{
		SelfNodeID: selfNodeID,
		Seen:       seenset.New(10000),
		Directory:  dir,
		Transport:  transport,
		OnCommand:  onCommand,
	}
}

// Broadcast stamps a fresh command from a loopback request and fans it
// out to every peer (§4.7).
func (b *CommandBroadcaster) Broadcast(ctx context.Context, cmdType envelope.SyncCommandType, folderPath string, recursive bool) envelope.SyncCommand {
	cmd := envelope.SyncCommand{
		Type:       cmdType,
		FolderPath: folderPath,
		Recursive:  recursive,
		OriginNode: b.SelfNodeID,
		MsgID:      envelope.NewMsgID(),
		Timestamp:  time.Now().Unix(),
	}
	b.Seen.MarkSeen(cmd.MsgID)

	if b.OnCommand != nil {
		go b.OnCommand(cmd)
	}
	b.fanout(ctx, cmd)
	return cmd
}

// Receive handles an inbound /p2p/command POST: duplicate-suppress,
// invoke the callback, and forward to further peers.
func (b *CommandBroadcaster) Receive(ctx context.Context, cmd envelope.SyncCommand) (alreadySeen bool) {
	if b.Seen.MarkSeen(cmd.MsgID) {
		return true
	}
	if b.OnCommand != nil {
		go b.OnCommand(cmd)
	}
	b.fanout(ctx, cmd)
	return false
}

func (b *CommandBroadcaster) fanout(ctx context.Context, cmd envelope.SyncCommand) {
	for _, p := range b.Directory.List() {
		if p.NodeID == b.SelfNodeID {
			continue
		}
		addr := p.Address
		go func() {
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = b.Transport.ForwardCommand(fctx, addr, cmd)
		}()
	}
	_ = ctx
}
