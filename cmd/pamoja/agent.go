package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/mifumo/pamoja/internal/agentclient"
	"github.com/mifumo/pamoja/internal/protocol"
)

var (
	agentGatewayURL   string
	agentToken        string
	agentID           string
	agentName         string
	agentCapabilities string
	agentTier         int
	agentIndependent  bool
	agentExec         string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Connect a worker agent to a Pamoja gateway",
	Long: `Runs a worker agent that registers with a Pamoja gateway over
WebSocket and serves stage calls by running the configured command.
The command receives the objective in PAMOJA_OBJECTIVE and the call
input as JSON on stdin; its stdout becomes the call output.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentGatewayURL, "gateway", "", "gateway WebSocket URL (e.g. ws://host:8080/ws/agents)")
	agentCmd.Flags().StringVar(&agentToken, "token", "", "gateway auth token")
	agentCmd.Flags().StringVar(&agentID, "id", "", "unique agent ID")
	agentCmd.Flags().StringVar(&agentName, "name", "", "human-readable agent name")
	agentCmd.Flags().StringVar(&agentCapabilities, "capabilities", "", "comma-separated capability list")
	agentCmd.Flags().IntVar(&agentTier, "tier", 0, "hierarchy tier (higher leads)")
	agentCmd.Flags().BoolVar(&agentIndependent, "independent", false, "agent output does not depend on other agents")
	agentCmd.Flags().StringVar(&agentExec, "exec", "", "command run for each stage call")
}

func runAgent(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	gatewayURL := goutils.Env("PAMOJA_GATEWAY_URL", agentGatewayURL)
	if gatewayURL == "" {
		return fmt.Errorf("--gateway or PAMOJA_GATEWAY_URL is required")
	}
	if agentID == "" {
		return fmt.Errorf("--id is required")
	}
	if agentExec == "" {
		return fmt.Errorf("--exec is required")
	}

	var capabilities []string
	for _, c := range strings.Split(agentCapabilities, ",") {
		if c = strings.TrimSpace(c); c != "" {
			capabilities = append(capabilities, c)
		}
	}

	handler := func(ctx context.Context, req protocol.CallRequest) (*protocol.CallResponse, error) {
		input, err := json.Marshal(req.Input)
		if err != nil {
			return nil, fmt.Errorf("encoding call input: %w", err)
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", agentExec)
		cmd.Env = append(os.Environ(), "PAMOJA_OBJECTIVE="+req.Objective)
		cmd.Stdin = bytes.NewReader(input)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
		}
		return &protocol.CallResponse{Output: strings.TrimSpace(stdout.String())}, nil
	}

	client := agentclient.New(agentclient.Config{
		GatewayURL:   gatewayURL,
		Token:        goutils.Env("PAMOJA_WS_TOKEN", agentToken),
		AgentID:      agentID,
		Name:         agentName,
		Capabilities: capabilities,
		Tier:         agentTier,
		Independent:  agentIndependent,
		Version:      version,
	}, handler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting agent",
		slog.String("agent_id", agentID),
		slog.String("gateway", gatewayURL),
	)
	err := client.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("agent stopped")
		return nil
	}
	return err
}
