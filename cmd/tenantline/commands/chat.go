package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

// newChatCmd creates the `tenantline chat` command for local conversations.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Runs a web-chat conversation in the terminal. With a message argument it
runs a single turn; without one it enters interactive mode. Tool calls that
need approval are decided inline.

Examples:
  tenantline chat "Unit 4B reported a leaking faucet"
  tenantline chat   # interactive mode`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChatCmd,
	}
}

func runChatCmd(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	rt, err := buildRuntime(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	if len(args) > 0 {
		_, err := runChatTurn(ctx, rt, reader, "", args[0])
		return err
	}

	fmt.Printf("%s interactive chat. Type 'exit' to quit.\n\n", cfg.Name)
	conversationID := ""
	for {
		fmt.Print("you> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		id, err := runChatTurn(ctx, rt, reader, conversationID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		// First turn mints the id; the session stays in one conversation.
		conversationID = id
	}
}

// runChatTurn runs a single turn and walks the approval prompts until the
// turn completes. Returns the conversation id for session continuity.
func runChatTurn(ctx context.Context, rt *runtime, reader *bufio.Reader, conversationID, text string) (string, error) {
	result, err := rt.orch.StartTurn(ctx, agent.ModalityWebChat, conversationID, text)
	if err != nil {
		return conversationID, err
	}

	id := result.ConversationID
	for result.State == agent.TurnAwaitingApproval {
		result, err = promptDecisions(ctx, rt, reader, result)
		if err != nil {
			return id, err
		}
	}

	fmt.Printf("\n%s\n\n", result.Reply)
	return id, nil
}

// promptDecisions asks the operator about each pending tool call and applies
// the decisions.
func promptDecisions(ctx context.Context, rt *runtime, reader *bufio.Reader, result *agent.TurnResult) (*agent.TurnResult, error) {
	for _, req := range result.Pending {
		args, _ := json.MarshalIndent(req.Args, "  ", "  ")
		fmt.Printf("\nThe assistant wants to run %s:\n  %s\n", req.ToolName, args)
		fmt.Print("Approve? (y/n): ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")

		decision := agent.ApprovalDecision{ToolCallID: req.ToolCallID, Approved: approved}
		if !approved {
			fmt.Print("Reason (optional): ")
			reason, _ := reader.ReadString('\n')
			decision.Reason = strings.TrimSpace(reason)
		}

		result, err = rt.orch.Decide(ctx, result.ConversationID, decision)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
