package mqttclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Commands is the engine surface reachable over MQTT.
type Commands interface {
	RecordStart() (string, error)
	RecordPause() error
	PlayerStart(id string) error
	PlayerPause(id string) error
}

var errUnknownCommand = errors.New("unknown command")

// playerCommand is the payload of the player/* topics.
type playerCommand struct {
	ID string `json:"id"`
}

// Dispatch runs the command named by topic. Topics look like
// <prefix>/cmd/record/start; player commands carry {"id": "..."}.
func Dispatch(prefix string, cmds Commands, topic string, payload []byte) error {
	name, ok := strings.CutPrefix(topic, strings.TrimSuffix(prefix, "/")+"/cmd/")
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownCommand, topic)
	}

	switch name {
	case "record/start":
		_, err := cmds.RecordStart()
		return err
	case "record/pause":
		return cmds.RecordPause()
	case "player/start", "player/pause":
		var cmd playerCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%s: invalid payload: %w", name, err)
		}
		id := strings.TrimSpace(cmd.ID)
		if id == "" {
			return fmt.Errorf("%s: recording id required", name)
		}
		if name == "player/start" {
			return cmds.PlayerStart(id)
		}
		return cmds.PlayerPause(id)
	}
	return fmt.Errorf("%w: %s", errUnknownCommand, name)
}

// CommandHandler adapts Dispatch to a MessageHandler that logs failures.
func CommandHandler(prefix string, cmds Commands, log zerolog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		if err := Dispatch(prefix, cmds, topic, payload); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("mqtt command failed")
			return
		}
		log.Debug().Str("topic", topic).Msg("mqtt command handled")
	}
}
