package radio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// SubscriptionPlaceholder is replaced with the subscription id in read command arguments
const SubscriptionPlaceholder = "{subscription}"

// CommandSensor is a Sensor backed by two external programs printing JSON:
// the list command prints an array of identities, the read command prints
// the state of the identity whose id replaces SubscriptionPlaceholder in its
// arguments.
type CommandSensor struct {
	listCommand []string
	readCommand []string
	timeout     time.Duration
}

// commandSnapshot is the JSON document printed by the read command
type commandSnapshot struct {
	Active              *bool   `json:"active"`
	Timestamp           *int64  `json:"timestamp"` // epoch milliseconds
	NetworkType         string  `json:"networkType"`
	Roaming             *bool   `json:"roaming"`
	DataState           string  `json:"dataState"`
	DataActivity        string  `json:"dataActivity"`
	SIMState            string  `json:"simState"`
	ENDCAvailable       *bool   `json:"endcAvailable"`
	NRState             *string `json:"nrState"`
	OverrideNetworkType *string `json:"overrideNetworkType"`
	Profile             Profile `json:"profile"`
	LTE                 *LTE    `json:"lte"`
	NR                  *NR     `json:"nr"`
}

// NewCommandSensor creates a CommandSensor. Each command invocation is
// bounded by timeout.
func NewCommandSensor(listCommand, readCommand []string, timeout time.Duration) (*CommandSensor, error) {
	if len(listCommand) == 0 || len(readCommand) == 0 {
		return nil, errors.New("radio list and read commands are required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &CommandSensor{
		listCommand: listCommand,
		readCommand: readCommand,
		timeout:     timeout,
	}, nil
}

func (s *CommandSensor) ActiveIdentities(ctx context.Context) ([]Identity, error) {
	out, err := s.run(ctx, s.listCommand)
	if err != nil {
		return nil, fmt.Errorf("running list command: %w", err)
	}

	var ids []Identity
	if err = json.Unmarshal(out, &ids); err != nil {
		return nil, fmt.Errorf("decoding identities: %w", err)
	}
	return ids, nil
}

func (s *CommandSensor) Read(ctx context.Context, subscriptionID int) (Snapshot, error) {
	args := make([]string, len(s.readCommand))
	for i, arg := range s.readCommand {
		args[i] = strings.ReplaceAll(arg, SubscriptionPlaceholder, strconv.Itoa(subscriptionID))
	}

	out, err := s.run(ctx, args)
	if err != nil {
		return Snapshot{}, fmt.Errorf("running read command: %w", err)
	}

	var cs commandSnapshot
	if err = json.Unmarshal(out, &cs); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	return cs.toSnapshot(subscriptionID)
}

func (s *CommandSensor) run(ctx context.Context, command []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func (cs *commandSnapshot) toSnapshot(subscriptionID int) (Snapshot, error) {
	if cs.Active != nil && !*cs.Active {
		return Snapshot{}, ErrIdentityGone
	}

	snap := Snapshot{
		SubscriptionID:      subscriptionID,
		NetworkType:         cs.NetworkType,
		Roaming:             cs.Roaming,
		DataState:           cs.DataState,
		DataActivity:        cs.DataActivity,
		SIMState:            cs.SIMState,
		ENDCAvailable:       cs.ENDCAvailable,
		NRState:             cs.NRState,
		OverrideNetworkType: cs.OverrideNetworkType,
		Profile:             cs.Profile,
	}
	snap.Profile.SubscriptionID = subscriptionID

	if cs.Timestamp != nil {
		snap.Timestamp = time.UnixMilli(*cs.Timestamp).UTC()
	}

	switch {
	case cs.NR != nil:
		snap.Cell = *cs.NR
		if snap.NetworkType == "" {
			snap.NetworkType = NetworkNR
		}

	case cs.LTE != nil:
		snap.Cell = *cs.LTE
		if snap.NetworkType == "" {
			snap.NetworkType = NetworkLTE
		}

	default:
		snap.Cell = Unavailable{Reason: "no serving cell"}
		if snap.NetworkType == "" {
			snap.NetworkType = NetworkUnknown
		}
	}

	return snap, nil
}
