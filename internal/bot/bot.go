package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/discord-music-mcp/internal/engine"
	"github.com/fankserver/discord-music-mcp/internal/feedback"
	"github.com/fankserver/discord-music-mcp/internal/voice"
	"github.com/sirupsen/logrus"
)

// NewSession creates a discordgo session with the intents the bot needs
func NewSession(token string) (*discordgo.Session, error) {
	discord, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return discord, nil
}

// MusicBot turns chat commands into engine calls and posts playback
// notifications back to the channel the guild last used
type MusicBot struct {
	discord   *discordgo.Session
	registry  *engine.Registry
	connector *voice.DiscordConnector
	prefix    string

	mu       sync.Mutex
	channels map[string]string // guild ID -> text channel ID

	// overridable in tests
	send           func(channelID, content string) error
	voiceChannelOf func(guildID, userID string) (string, bool)
}

// New creates a MusicBot and registers its Discord handlers. connector may
// be nil when voice links are not backed by Discord.
func New(discord *discordgo.Session, registry *engine.Registry, connector *voice.DiscordConnector, prefix string) *MusicBot {
	b := &MusicBot{
		discord:   discord,
		registry:  registry,
		connector: connector,
		prefix:    prefix,
		channels:  make(map[string]string),
	}
	b.send = b.sendMessage
	b.voiceChannelOf = b.lookupVoiceChannel

	if discord != nil {
		discord.AddHandler(b.ready)
		discord.AddHandler(b.voiceStateUpdate)
		discord.AddHandler(b.messageCreate)
	}

	return b
}

// Connect establishes connection to Discord
func (b *MusicBot) Connect() error {
	return b.discord.Open()
}

// Disconnect tears down every guild and closes the Discord connection
func (b *MusicBot) Disconnect() error {
	b.registry.Close()
	return b.discord.Close()
}

// Notify relays bus events to text channels until the returned function is called
func (b *MusicBot) Notify(bus *feedback.EventBus) func() {
	return bus.SubscribeAll(b.handleEvent)
}

// GetStatus returns current bot status
func (b *MusicBot) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"connected": b.discord != nil && b.discord.State != nil && b.discord.State.Ready.User != nil,
		"guilds":    b.registry.Guilds(),
	}
	return status
}

func (b *MusicBot) rememberChannel(guildID, channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[guildID] = channelID
}

func (b *MusicBot) channelFor(guildID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.channels[guildID]
	return id, ok
}

func (b *MusicBot) handleEvent(event feedback.Event) {
	msg := describeEvent(event)
	if msg == "" {
		return
	}
	channelID, ok := b.channelFor(event.GuildID)
	if !ok {
		return
	}
	if err := b.send(channelID, msg); err != nil {
		logrus.WithError(err).WithField("guild_id", event.GuildID).Debug("Failed to send notification")
	}
}

func (b *MusicBot) sendMessage(channelID, content string) error {
	_, err := b.discord.ChannelMessageSend(channelID, content)
	return err
}

func (b *MusicBot) lookupVoiceChannel(guildID, userID string) (string, bool) {
	g, err := b.discord.State.Guild(guildID)
	if err != nil || g == nil {
		logrus.WithFields(logrus.Fields{
			"guild_id": guildID,
			"error":    err,
		}).Error("Could not find guild in state")
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, true
		}
	}
	return "", false
}

// Event handlers

func (b *MusicBot) ready(s *discordgo.Session, event *discordgo.Ready) {
	logrus.WithFields(logrus.Fields{
		"username": s.State.User.Username,
		"guilds":   len(event.Guilds),
	}).Info("Bot is ready")
}

func (b *MusicBot) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if b.connector == nil || s.State.User == nil {
		return
	}
	b.connector.HandleVoiceStateUpdate(s.State.User.ID, vsu)
}

func (b *MusicBot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	name, args, ok := parseCommand(b.prefix, m.Content)
	if !ok {
		return
	}

	displayName := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		displayName = m.Member.Nick
	}

	reply := b.handleCommand(context.Background(), command{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: displayName,
		Name:       name,
		Args:       args,
	})
	if reply == "" {
		return
	}
	if err := b.send(m.ChannelID, reply); err != nil {
		logrus.WithError(err).Debug("Failed to send command reply")
	}
}
