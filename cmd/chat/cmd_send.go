package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drunk-bob/internal/agent"
	"drunk-bob/internal/collection"
	"drunk-bob/internal/observability"
	"drunk-bob/internal/recommendation"
)

var (
	agentID     string
	walletAddr  string
	roomID      string
	attachPath  string
	useOpenAI   bool
	barUsername string
	jsonOutput  bool
)

// sendCmd sends one message to BOB
var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and print the reply and its recommendations",
	Long: `Send a message to BOB and print the reply.

By default the message goes to the agent backend (--agent). With --openai
the reply comes straight from the chat completion model instead, and
--bar adds the user's Boozapp bar to its prompt.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&agentID, "agent", "", "Backend agent ID (defaults to the first agent)")
	f.StringVar(&walletAddr, "wallet", "", "Wallet address sent with the message")
	f.StringVar(&roomID, "room", "", "Room ID to continue")
	f.StringVar(&attachPath, "file", "", "Attach a file (for example a bottle photo)")
	f.BoolVar(&useOpenAI, "openai", false, "Answer with the OpenAI model instead of the backend")
	f.StringVar(&cfg.OpenAIModel, "model", cfg.OpenAIModel, "OpenAI model")
	f.StringVar(&cfg.AgentPromptFile, "prompt", cfg.AgentPromptFile, "YAML prompt file for --openai")
	f.StringVar(&barUsername, "bar", "", "Boozapp username whose bar is given to --openai")
	f.BoolVar(&jsonOutput, "json", false, "Print the recommendations as JSON")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req := agent.MessageRequest{
		Text:   strings.Join(args, " "),
		Wallet: walletAddr,
		RoomID: roomID,
	}
	if attachPath != "" {
		f, err := os.Open(attachPath)
		if err != nil {
			return fmt.Errorf("open attachment: %w", err)
		}
		defer f.Close()
		req.File = f
		req.FileName = filepath.Base(attachPath)
	}

	responder, err := newResponder(ctx)
	if err != nil {
		return err
	}
	if useOpenAI && barUsername != "" {
		items, err := collection.NewFetcher(
			collection.WithLogger(logger),
			collection.WithCacheTTL(cfg.CollectionCacheTTL),
		).Fetch(ctx, &collection.ProxyCursor{}, barUsername)
		if err != nil {
			logger.Warn("bar unavailable, continuing without it", zap.Error(err))
		} else {
			req.Collection = collection.Names(items)
		}
	}

	reply, err := responder.Respond(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !recommendation.IsRecommendationReply(reply) {
		if jsonOutput {
			return printJSON(out, recommendation.FormatResponse(nil))
		}
		fmt.Fprintln(out, reply)
		return nil
	}

	records := recommendation.Parse(reply)
	observability.RecordRecommendations(len(records))
	resp := recommendation.FormatResponse(records)
	if jsonOutput {
		return printJSON(out, resp)
	}

	fmt.Fprintln(out, reply)
	fmt.Fprintln(out)
	for i, r := range resp.Recommendations {
		fmt.Fprintf(out, "%d. %s (%s, %d proof) %s\n   %s\n", i+1, r.Name, r.Spirit, r.Proof, r.Price, r.Why)
	}
	return nil
}

func newResponder(ctx context.Context) (agent.Responder, error) {
	if useOpenAI {
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required with --openai")
		}
		spec, err := loadPrompt()
		if err != nil {
			return nil, err
		}
		return agent.NewOpenAIAgent(openai.NewClient(cfg.OpenAIAPIKey), cfg.OpenAIModel, spec), nil
	}

	client := newBackendClient()
	id := agentID
	if id == "" {
		agents, err := client.GetAgents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		if len(agents) == 0 {
			return nil, errors.New("backend runs no agents")
		}
		id = agents[0].ID
		logger.Debug("using first agent", zap.String("agent", id), zap.String("name", agents[0].Name))
	}
	return client.Agent(id), nil
}

func newBackendClient() *agent.Client {
	return agent.NewClient(cfg.APIBaseURL)
}

func loadPrompt() (agent.PromptSpec, error) {
	if cfg.AgentPromptFile != "" {
		return agent.LoadPromptSpec(cfg.AgentPromptFile)
	}
	return agent.DefaultPromptSpec()
}
