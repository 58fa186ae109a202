package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fankserver/discord-music-mcp/internal/engine"
	"github.com/fankserver/discord-music-mcp/internal/feedback"
	"github.com/fankserver/discord-music-mcp/internal/queue"
	"github.com/fankserver/discord-music-mcp/pkg/track"
	"github.com/sirupsen/logrus"
)

type command struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Name       string
	Args       []string
}

func (c command) arg() string {
	return strings.Join(c.Args, " ")
}

var aliases = map[string]string{
	"p":      "play",
	"s":      "skip",
	"q":      "queue",
	"vol":    "volume",
	"rm":     "remove",
	"dc":     "leave",
	"np":     "nowplaying",
	"repeat": "loop",
}

// parseCommand splits a prefixed message into a lower-cased command name and
// its arguments
func parseCommand(prefix, content string) (string, []string, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(fields[0])
	if full, ok := aliases[name]; ok {
		name = full
	}
	return name, fields[1:], true
}

func (b *MusicBot) handleCommand(ctx context.Context, cmd command) string {
	logger := logrus.WithFields(logrus.Fields{
		"guild_id": cmd.GuildID,
		"user_id":  cmd.AuthorID,
		"command":  cmd.Name,
	})
	logger.Debug("Handling command")

	b.rememberChannel(cmd.GuildID, cmd.ChannelID)

	switch cmd.Name {
	case "play":
		return b.cmdPlay(ctx, cmd, logger)
	case "join":
		return b.cmdJoin(ctx, cmd)
	case "leave":
		b.registry.Disconnect(cmd.GuildID)
		return "👋 Left the voice channel"
	case "pause":
		if b.registry.Pause(cmd.GuildID) {
			return "⏸️ Paused"
		}
		return "Nothing is playing"
	case "resume":
		if b.registry.Resume(cmd.GuildID) {
			return "▶️ Resumed"
		}
		return "Nothing is paused"
	case "skip":
		if b.registry.Skip(cmd.GuildID) {
			return "⏭️ Skipped"
		}
		return "Nothing is playing"
	case "stop":
		b.registry.Stop(cmd.GuildID)
		return "⏹️ Stopped and cleared the queue"
	case "queue":
		return b.cmdQueue(cmd)
	case "nowplaying":
		return formatNowPlaying(b.registry.GetStatus(cmd.GuildID))
	case "volume":
		return b.cmdVolume(cmd)
	case "loop":
		return b.cmdLoop(cmd)
	case "shuffle":
		b.registry.Shuffle(cmd.GuildID)
		return "🔀 Shuffled the queue"
	case "remove":
		return b.cmdRemove(cmd)
	case "clear":
		n := b.registry.ClearQueue(cmd.GuildID)
		return fmt.Sprintf("🗑️ Removed %d track(s) from the queue", n)
	case "help":
		return helpText(b.prefix)
	default:
		return ""
	}
}

var errNoVoiceChannel = errors.New("you need to be in a voice channel")

func (b *MusicBot) joinAuthor(ctx context.Context, cmd command) error {
	channelID, ok := b.voiceChannelOf(cmd.GuildID, cmd.AuthorID)
	if !ok || channelID == "" {
		return errNoVoiceChannel
	}
	return b.registry.Join(ctx, cmd.GuildID, channelID)
}

func (b *MusicBot) cmdJoin(ctx context.Context, cmd command) string {
	if err := b.joinAuthor(ctx, cmd); err != nil {
		return "Could not join: " + userError(err)
	}
	return "🔊 Joined your voice channel"
}

func (b *MusicBot) cmdPlay(ctx context.Context, cmd command, logger *logrus.Entry) string {
	query := cmd.arg()
	if query == "" {
		if b.registry.GetStatus(cmd.GuildID).State == engine.Paused {
			b.registry.Resume(cmd.GuildID)
			return "▶️ Resumed"
		}
		return fmt.Sprintf("Usage: %splay <url or search terms>", b.prefix)
	}

	if b.registry.GetStatus(cmd.GuildID).ChannelID == "" {
		if err := b.joinAuthor(ctx, cmd); err != nil {
			return "Could not join: " + userError(err)
		}
	}

	requester := track.Requester{ID: cmd.AuthorID, DisplayName: cmd.AuthorName}
	t, position, err := b.registry.AddTrack(ctx, cmd.GuildID, query, requester)
	if err != nil {
		logger.WithError(err).Info("Could not add track")
		return "Could not add track: " + userError(err)
	}

	if b.registry.GetStatus(cmd.GuildID).State == engine.Idle {
		// the outcome is announced through the event bus
		go func() {
			if err := b.registry.Play(context.Background(), cmd.GuildID); err != nil && !errors.Is(err, engine.ErrAlreadyPlaying) {
				logger.WithError(err).Info("Playback did not start")
			}
		}()
	}

	return fmt.Sprintf("➕ Queued **%s** (%s) at position %d", t.Title, t.DisplayDuration(), position)
}

func (b *MusicBot) cmdQueue(cmd command) string {
	page := 1
	if len(cmd.Args) > 0 {
		n, err := strconv.Atoi(cmd.Args[0])
		if err != nil || n < 1 {
			return "Page must be a positive number"
		}
		page = n
	}
	status := b.registry.GetStatus(cmd.GuildID)
	tracks := b.registry.GetQueue(cmd.GuildID, page)
	return formatQueue(status, tracks, page, b.registry.QueuePageSize())
}

func (b *MusicBot) cmdVolume(cmd command) string {
	if len(cmd.Args) == 0 {
		return fmt.Sprintf("🔉 Volume is %d%%", b.registry.GetStatus(cmd.GuildID).VolumePercent())
	}
	n, err := strconv.Atoi(strings.TrimSuffix(cmd.Args[0], "%"))
	if err != nil {
		return "Volume must be a number between 0 and 100"
	}
	applied := b.registry.SetVolume(cmd.GuildID, n)
	return fmt.Sprintf("🔉 Volume set to %d%%, applies from the next track", applied)
}

func (b *MusicBot) cmdLoop(cmd command) string {
	if len(cmd.Args) == 0 {
		return fmt.Sprintf("🔁 Loop mode is %s", b.registry.GetStatus(cmd.GuildID).LoopMode)
	}
	mode, err := engine.ParseLoopMode(cmd.Args[0])
	if err != nil {
		return "Loop mode must be one of off, song, queue"
	}
	b.registry.SetLoopMode(cmd.GuildID, mode)
	return fmt.Sprintf("🔁 Loop mode set to %s", mode)
}

func (b *MusicBot) cmdRemove(cmd command) string {
	if len(cmd.Args) == 0 {
		return fmt.Sprintf("Usage: %sremove <position>", b.prefix)
	}
	position, err := strconv.Atoi(cmd.Args[0])
	if err != nil || position < 1 {
		return "Position must be a positive number"
	}
	removed, err := b.registry.RemoveTrack(cmd.GuildID, position-1)
	if err != nil {
		return fmt.Sprintf("There is no track at position %d", position)
	}
	return fmt.Sprintf("🗑️ Removed **%s**", removed.Title)
}

func userError(err error) string {
	switch {
	case errors.Is(err, engine.ErrTransportTimeout):
		return "the source took too long to respond"
	case errors.Is(err, engine.ErrResolutionFailed):
		return "nothing matched that query"
	case errors.Is(err, engine.ErrConnectionFailed):
		return "the voice connection failed"
	case errors.Is(err, engine.ErrNotConnected):
		return "not in a voice channel"
	case errors.Is(err, engine.ErrStopped):
		return "playback was stopped"
	case errors.Is(err, queue.ErrIndexOutOfRange):
		return "no such position"
	default:
		return err.Error()
	}
}

func formatNowPlaying(status engine.Status) string {
	if status.Current == nil {
		return "Nothing is playing"
	}
	t := status.Current
	icon := "🎶"
	if status.State == engine.Paused {
		icon = "⏸️"
	}
	msg := fmt.Sprintf("%s **%s** (%s)", icon, t.Title, t.DisplayDuration())
	if t.Requester.DisplayName != "" {
		msg += " requested by " + t.Requester.DisplayName
	}
	return msg
}

func formatQueue(status engine.Status, tracks []track.Track, page, pageSize int) string {
	var sb strings.Builder
	sb.WriteString(formatNowPlaying(status))
	sb.WriteString("\n")

	if status.QueueLength == 0 {
		sb.WriteString("The queue is empty")
		return sb.String()
	}
	pages := queue.PageCount(status.QueueLength, pageSize)
	if len(tracks) == 0 {
		fmt.Fprintf(&sb, "Page %d does not exist, the queue has %d page(s)", page, pages)
		return sb.String()
	}

	fmt.Fprintf(&sb, "**Queue** page %d/%d, %d track(s), loop %s\n", page, pages, status.QueueLength, status.LoopMode)
	offset := (page - 1) * pageSize
	for i, t := range tracks {
		fmt.Fprintf(&sb, "`%d.` %s (%s)", offset+i+1, t.Title, t.DisplayDuration())
		if t.Requester.DisplayName != "" {
			fmt.Fprintf(&sb, " | %s", t.Requester.DisplayName)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func describeEvent(event feedback.Event) string {
	switch event.Type {
	case feedback.EventTrackStarted:
		data, ok := event.Data.(feedback.TrackData)
		if !ok {
			return ""
		}
		return fmt.Sprintf("🎶 Now playing **%s** (%s)", data.Track.Title, data.Track.DisplayDuration())
	case feedback.EventTrackSkipped:
		data, ok := event.Data.(feedback.TrackFailedData)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⚠️ Skipping **%s**: could not open the stream", data.Track.Title)
	case feedback.EventStreamError:
		data, ok := event.Data.(feedback.TrackFailedData)
		if !ok {
			return ""
		}
		return fmt.Sprintf("⚠️ Playback of **%s** failed, moving on", data.Track.Title)
	case feedback.EventQueueFinished:
		return "✅ Queue finished"
	case feedback.EventVoiceDisconnected:
		return "🔌 Disconnected from voice"
	default:
		return ""
	}
}

func helpText(prefix string) string {
	lines := []string{
		"play <url or search>", "pause", "resume", "skip", "stop",
		"queue [page]", "np", "volume [0-100]", "loop [off|song|queue]",
		"shuffle", "remove <position>", "clear", "join", "leave",
	}
	var sb strings.Builder
	sb.WriteString("**Commands**\n")
	for _, l := range lines {
		fmt.Fprintf(&sb, "`%s%s`\n", prefix, l)
	}
	return strings.TrimRight(sb.String(), "\n")
}
