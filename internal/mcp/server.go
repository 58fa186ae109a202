package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fankserver/discord-music-mcp/internal/engine"
	"github.com/fankserver/discord-music-mcp/internal/session"
	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// Server exposes guild playback as MCP tools over stdio
type Server struct {
	registry  *engine.Registry
	sessions  *session.Manager
	mcpServer *mcp.Server
}

// Tool inputs

type EmptyInput struct{}

type GuildInput struct {
	GuildID string `json:"guildId" jsonschema:"the Discord guild ID"`
}

type JoinInput struct {
	GuildID   string `json:"guildId" jsonschema:"the Discord guild ID"`
	ChannelID string `json:"channelId" jsonschema:"the voice channel ID to join"`
}

type AddTrackInput struct {
	GuildID       string `json:"guildId" jsonschema:"the Discord guild ID"`
	Query         string `json:"query" jsonschema:"a URL or search terms"`
	RequesterID   string `json:"requesterId,omitempty" jsonschema:"ID of the requesting user"`
	RequesterName string `json:"requesterName,omitempty" jsonschema:"display name of the requesting user"`
}

type VolumeInput struct {
	GuildID string `json:"guildId" jsonschema:"the Discord guild ID"`
	Volume  int    `json:"volume" jsonschema:"volume in percent, 0 to 100"`
}

type LoopModeInput struct {
	GuildID string `json:"guildId" jsonschema:"the Discord guild ID"`
	Mode    string `json:"mode" jsonschema:"off, song or queue"`
}

type QueueInput struct {
	GuildID string `json:"guildId" jsonschema:"the Discord guild ID"`
	Page    int    `json:"page,omitempty" jsonschema:"page number starting at 1"`
}

type RemoveTrackInput struct {
	GuildID  string `json:"guildId" jsonschema:"the Discord guild ID"`
	Position int    `json:"position" jsonschema:"1-based queue position"`
}

type SessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"the listening session ID"`
}

// NewServer creates a new MCP server with all tools registered
func NewServer(registry *engine.Registry, sessions *session.Manager) *Server {
	s := &Server{
		registry: registry,
		sessions: sessions,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "discord-music-mcp",
		Version: "1.0.0",
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "join_voice_channel",
		Description: "Join a voice channel in a guild",
	}, s.handleJoinChannel)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_track",
		Description: "Resolve a URL or search query and append it to the guild's queue",
	}, s.handleAddTrack)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "play",
		Description: "Start playing the guild's queue",
	}, s.handlePlay)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "pause",
		Description: "Pause the current track",
	}, s.handlePause)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resume",
		Description: "Resume the paused track",
	}, s.handleResume)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "skip",
		Description: "Skip to the next track",
	}, s.handleSkip)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "stop",
		Description: "Stop playback and clear the queue",
	}, s.handleStop)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_volume",
		Description: "Set the playback volume (0-100), applied from the next track",
	}, s.handleSetVolume)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_loop_mode",
		Description: "Set the loop mode: off, song or queue",
	}, s.handleSetLoopMode)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "shuffle",
		Description: "Shuffle the pending tracks",
	}, s.handleShuffle)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_status",
		Description: "Get the guild's playback status as JSON",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_queue",
		Description: "List one page of the guild's queue",
	}, s.handleGetQueue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_track",
		Description: "Remove a track from the queue by its 1-based position",
	}, s.handleRemoveTrack)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_queue",
		Description: "Remove all pending tracks, keeping the current one",
	}, s.handleClearQueue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "disconnect",
		Description: "Stop playback and leave the voice channel",
	}, s.handleDisconnect)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List all listening sessions",
	}, s.handleListSessions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_session",
		Description: "Get the track history of a listening session",
	}, s.handleGetSession)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_session",
		Description: "Export a listening session to a JSON file",
	}, s.handleExportSession)
}

// Start runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Start(ctx context.Context) error {
	logrus.Info("Starting MCP server with stdio transport")
	return s.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

func textResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return textResult("%s", data), nil
}

func requireGuild(guildID string) error {
	if strings.TrimSpace(guildID) == "" {
		return errors.New("guildId is required")
	}
	return nil
}

// Playback tools

func (s *Server) handleJoinChannel(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[JoinInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	if err := requireGuild(in.GuildID); err != nil {
		return nil, err
	}
	if in.ChannelID == "" {
		return nil, errors.New("channelId is required")
	}

	if err := s.registry.Join(ctx, in.GuildID, in.ChannelID); err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	return textResult("Joined voice channel %s", in.ChannelID), nil
}

func (s *Server) handleAddTrack(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[AddTrackInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	if err := requireGuild(in.GuildID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, errors.New("query is required")
	}

	requester := track.Requester{ID: in.RequesterID, DisplayName: in.RequesterName}
	if requester.DisplayName == "" {
		requester.DisplayName = "mcp"
	}

	t, position, err := s.registry.AddTrack(ctx, in.GuildID, in.Query, requester)
	if err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}
	return textResult("Queued %q (%s) at position %d", t.Title, t.DisplayDuration(), position), nil
}

func (s *Server) handlePlay(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	guildID := params.Arguments.GuildID
	if err := requireGuild(guildID); err != nil {
		return nil, err
	}

	err := s.registry.Play(ctx, guildID)
	switch {
	case err == nil:
		status := s.registry.GetStatus(guildID)
		if status.Current != nil {
			return textResult("Now playing %q", status.Current.Title), nil
		}
		return textResult("Playback started"), nil
	case errors.Is(err, engine.ErrAlreadyPlaying):
		return textResult("Already playing"), nil
	default:
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}
}

func (s *Server) handlePause(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	if s.registry.Pause(params.Arguments.GuildID) {
		return textResult("Paused"), nil
	}
	return textResult("Nothing is playing"), nil
}

func (s *Server) handleResume(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	if s.registry.Resume(params.Arguments.GuildID) {
		return textResult("Resumed"), nil
	}
	return textResult("Nothing is paused"), nil
}

func (s *Server) handleSkip(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	if s.registry.Skip(params.Arguments.GuildID) {
		return textResult("Skipped"), nil
	}
	return textResult("Nothing is playing"), nil
}

func (s *Server) handleStop(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	s.registry.Stop(params.Arguments.GuildID)
	return textResult("Stopped playback and cleared the queue"), nil
}

func (s *Server) handleSetVolume(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[VolumeInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	if err := requireGuild(in.GuildID); err != nil {
		return nil, err
	}
	applied := s.registry.SetVolume(in.GuildID, in.Volume)
	return textResult("Volume set to %d%%", applied), nil
}

func (s *Server) handleSetLoopMode(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[LoopModeInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	if err := requireGuild(in.GuildID); err != nil {
		return nil, err
	}
	mode, err := engine.ParseLoopMode(in.Mode)
	if err != nil {
		return nil, err
	}
	s.registry.SetLoopMode(in.GuildID, mode)
	return textResult("Loop mode set to %s", mode), nil
}

func (s *Server) handleShuffle(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	s.registry.Shuffle(params.Arguments.GuildID)
	return textResult("Queue shuffled"), nil
}

func (s *Server) handleGetStatus(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	return jsonResult(s.registry.GetStatus(params.Arguments.GuildID))
}

func (s *Server) handleGetQueue(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[QueueInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	page := in.Page
	if page == 0 {
		page = 1
	}

	tracks := s.registry.GetQueue(in.GuildID, page)
	if len(tracks) == 0 {
		return textResult("No tracks on page %d", page), nil
	}

	offset := (page - 1) * s.registry.QueuePageSize()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Queue page %d:\n", page)
	for i, t := range tracks {
		fmt.Fprintf(&sb, "%d. %s (%s) - %s\n", offset+i+1, t.Title, t.DisplayDuration(), t.URL)
	}
	return textResult("%s", strings.TrimRight(sb.String(), "\n")), nil
}

func (s *Server) handleRemoveTrack(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[RemoveTrackInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	if in.Position < 1 {
		return nil, fmt.Errorf("position %d must be at least 1", in.Position)
	}
	removed, err := s.registry.RemoveTrack(in.GuildID, in.Position-1)
	if err != nil {
		return nil, fmt.Errorf("failed to remove track at position %d: %w", in.Position, err)
	}
	return textResult("Removed %q", removed.Title), nil
}

func (s *Server) handleClearQueue(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	n := s.registry.ClearQueue(params.Arguments.GuildID)
	return textResult("Removed %d track(s) from the queue", n), nil
}

func (s *Server) handleDisconnect(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	s.registry.Disconnect(params.Arguments.GuildID)
	return textResult("Disconnected"), nil
}

// Session tools

func (s *Server) handleListSessions(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	sessions := s.sessions.ListSessions()
	if len(sessions) == 0 {
		return textResult("No sessions found"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d session(s):\n", len(sessions))
	for _, sess := range sessions {
		state := "active"
		if sess.EndTime != nil {
			state = "ended"
		}
		fmt.Fprintf(&sb, "- %s guild %s channel %s, %d track(s), started %s, %s\n",
			sess.ID, sess.GuildID, sess.ChannelID, len(sess.Entries),
			sess.StartTime.Format("2006-01-02 15:04:05"), state)
	}
	return textResult("%s", strings.TrimRight(sb.String(), "\n")), nil
}

func (s *Server) handleGetSession(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionInput]) (*mcp.CallToolResultFor[any], error) {
	sess, err := s.sessions.GetSession(params.Arguments.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	if len(sess.Entries) == 0 {
		return textResult("Session %s has no tracks yet", sess.ID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s:\n", sess.ID)
	for _, e := range sess.Entries {
		fmt.Fprintf(&sb, "[%s] %s %q", e.Timestamp.Format("15:04:05"), e.Outcome, e.Title)
		if e.Requester != "" {
			fmt.Fprintf(&sb, " by %s", e.Requester)
		}
		if e.Detail != "" {
			fmt.Fprintf(&sb, " (%s)", e.Detail)
		}
		sb.WriteString("\n")
	}
	return textResult("%s", strings.TrimRight(sb.String(), "\n")), nil
}

func (s *Server) handleExportSession(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[SessionInput]) (*mcp.CallToolResultFor[any], error) {
	path, err := s.sessions.ExportSession(params.Arguments.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	return textResult("Session exported to %s", path), nil
}
