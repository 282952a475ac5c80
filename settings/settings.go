// Package settings is the external source of the channel selection and
// chat buffer size. Values live in a JSON file read through viper; every
// change is announced on Updates.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/onnwee/twitch-chat-metrics/chat"
)

// DefaultChatBuffer is the history cap used when the file does not set one.
const DefaultChatBuffer = 250

const (
	keyTwitchChannel = "twitch_channel"
	keyChatBuffer    = "chat_buffer"
)

// ErrInvalidSettings wraps every validation failure.
var ErrInvalidSettings = errors.New("settings: invalid")

// Settings is the persisted user configuration.
type Settings struct {
	TwitchChannel string `json:"twitch_channel" mapstructure:"twitch_channel"`
	ChatBuffer    int    `json:"chat_buffer" mapstructure:"chat_buffer"`
}

// Default returns the settings used when nothing is stored.
func Default() Settings {
	return Settings{ChatBuffer: DefaultChatBuffer}
}

// Normalize returns s with the channel in canonical form.
func (s Settings) Normalize() Settings {
	s.TwitchChannel = chat.NormalizeChannel(s.TwitchChannel)
	return s
}

func (s Settings) Validate() error {
	if s.ChatBuffer <= 0 {
		return fmt.Errorf("%w: chat_buffer must be > 0, got %d", ErrInvalidSettings, s.ChatBuffer)
	}
	return nil
}

// Source holds the current settings and publishes changes. Updates is
// coalescing: a slow reader only sees the latest value.
type Source struct {
	path string
	seed Settings
	log  *slog.Logger

	mu       sync.Mutex
	v        *viper.Viper
	current  Settings
	updates  chan Settings
	watching bool
}

// NewSource loads path (a missing file yields seed) and queues the loaded
// settings as the first update so the initial session starts like any
// other change.
func NewSource(path string, seed Settings) (*Source, error) {
	if seed.ChatBuffer <= 0 {
		seed.ChatBuffer = DefaultChatBuffer
	}
	seed = seed.Normalize()

	s := &Source{
		path:    path,
		seed:    seed,
		log:     slog.Default().With(slog.String("component", "settings"), slog.String("file", path)),
		updates: make(chan Settings, 1),
	}
	s.v = s.newViper()

	loaded, err := s.read(s.v)
	if err != nil {
		return nil, err
	}
	s.current = loaded
	s.notify(loaded)
	s.log.Info("settings loaded",
		slog.String("twitch_channel", loaded.TwitchChannel),
		slog.Int("chat_buffer", loaded.ChatBuffer))
	return s, nil
}

func (s *Source) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	v.SetDefault(keyTwitchChannel, s.seed.TwitchChannel)
	v.SetDefault(keyChatBuffer, s.seed.ChatBuffer)
	return v
}

// read loads the file into v and decodes it. A missing file is not an error.
func (s *Source) read(v *viper.Viper) (Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read settings %s: %w", s.path, err)
		}
		s.log.Info("settings file not found; using defaults")
	}
	return decode(v)
}

func decode(v *viper.Viper) (Settings, error) {
	var st Settings
	if err := v.Unmarshal(&st); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	st = st.Normalize()
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// Current returns the latest settings.
func (s *Source) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Updates delivers every change, starting with the initial load.
func (s *Source) Updates() <-chan Settings { return s.updates }

// Update validates, persists and publishes st. It always notifies, even when
// the values did not change, so saving acts as an explicit restart.
func (s *Source) Update(st Settings) (Settings, error) {
	st = st.Normalize()
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(keyTwitchChannel, st.TwitchChannel)
	s.v.Set(keyChatBuffer, st.ChatBuffer)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return Settings{}, fmt.Errorf("write settings %s: %w", s.path, err)
	}
	s.current = st
	s.notify(st)
	s.log.Info("settings saved",
		slog.String("twitch_channel", st.TwitchChannel),
		slog.Int("chat_buffer", st.ChatBuffer))
	return st, nil
}

// Watch follows external edits of the file. Only real value changes are
// published; invalid edits are logged and ignored. Calling Watch more than
// once has no effect.
func (s *Source) Watch() {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return
	}
	s.watching = true
	s.mu.Unlock()

	// A dedicated instance: viper re-reads the file on its watcher goroutine,
	// which must not race with Update.
	w := s.newViper()
	if err := w.ReadInConfig(); err != nil {
		s.log.Debug("watch: initial read", slog.Any("err", err))
	}
	w.OnConfigChange(func(e fsnotify.Event) {
		st, err := decode(w)
		if err != nil {
			s.log.Warn("ignoring invalid settings edit", slog.Any("err", err))
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if st == s.current {
			return
		}
		s.current = st
		s.v.Set(keyTwitchChannel, st.TwitchChannel)
		s.v.Set(keyChatBuffer, st.ChatBuffer)
		s.notify(st)
		s.log.Info("settings changed on disk",
			slog.String("op", e.Op.String()),
			slog.String("twitch_channel", st.TwitchChannel),
			slog.Int("chat_buffer", st.ChatBuffer))
	})
	w.WatchConfig()
}

// notify must be called with s.mu held, or before s is shared.
func (s *Source) notify(st Settings) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- st
}
