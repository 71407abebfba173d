package service

import (
	"context"
	"fmt"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/ipc"
	"github.com/berrythewa/cliped-daemon/internal/types"
)

// HandleIPC answers one IPC request against the command surface.
func (s *Service) HandleIPC(req *ipc.Request) *ipc.Response {
	switch req.Command {
	case ipc.CmdHistory:
		entries, err := s.GetClipboardHistoryPaginated(
			req.IntArg("offset", 0), req.IntArg("limit", 20))
		if err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(entries)

	case ipc.CmdHistoryCount:
		return ipc.OK(s.GetClipboardHistoryCount())

	case ipc.CmdAdd:
		content := req.StringArg("content")
		if content == "" {
			return ipc.Error(fmt.Errorf("missing content"))
		}
		entry := &types.ClipboardEntry{
			Content: content,
			Type:    types.TypeText,
			Created: time.Now(),
		}
		if err := s.AddClipboardItem(entry); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(entry)

	case ipc.CmdDelete:
		if err := s.DeleteClipboardItem(req.StringArg("id")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(nil)

	case ipc.CmdClear:
		cleared, err := s.ClearClipboardHistory()
		if err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(len(cleared))

	case ipc.CmdSetClipboard:
		if err := s.SetClipboardContent(req.StringArg("content")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(nil)

	case ipc.CmdMonitor:
		if req.StringArg("action") == "toggle" {
			return ipc.OK(s.ToggleMonitoring())
		}
		return ipc.OK(s.IsMonitoringEnabled())

	case ipc.CmdLocalDevice:
		return ipc.OK(s.GetLocalDevice())

	case ipc.CmdRename:
		if err := s.UpdateDeviceName(req.StringArg("name")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(s.GetLocalDevice())

	case ipc.CmdDiscover:
		found, err := s.DiscoverDevices(context.Background())
		if err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(found)

	case ipc.CmdDevices:
		return ipc.OK(s.GetConnectedDevices())

	case ipc.CmdPending:
		return ipc.OK(s.GetPendingConnections())

	case ipc.CmdDiscovered:
		return ipc.OK(s.GetDiscoveredDevices())

	case ipc.CmdConnect:
		if err := s.SendConnectionRequestToDevice(req.StringArg("id")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(nil)

	case ipc.CmdAccept:
		if err := s.AcceptConnection(req.StringArg("id")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(nil)

	case ipc.CmdDeny:
		if err := s.DenyConnection(req.StringArg("id")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(nil)

	case ipc.CmdRemove:
		if err := s.RemoveDevice(req.StringArg("id")); err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(nil)

	case ipc.CmdAddFile:
		entry, err := s.AddFileToClipboard(req.StringArg("path"))
		if err != nil {
			return ipc.Error(err)
		}
		return ipc.OK(entry)

	default:
		return ipc.Error(fmt.Errorf("unknown command %q", req.Command))
	}
}
