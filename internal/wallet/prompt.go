package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptApprover asks for confirmation on out and reads y/n answers from in.
// Requests are asked one at a time.
func PromptApprover(in io.Reader, out io.Writer) Approver {
	var (
		mu    sync.Mutex
		once  sync.Once
		lines = make(chan string)
	)
	startReader := func() {
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
	}

	return func(ctx context.Context, req ApprovalRequest) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		once.Do(startReader)

		fmt.Fprintf(out, "%s\nApprove? [y/N] ", describeRequest(req))
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return false, io.EOF
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			}
			return false, nil
		}
	}
}

func describeRequest(req ApprovalRequest) string {
	switch req.Kind {
	case RequestMessage:
		return fmt.Sprintf("Sign message: %q", req.Message)
	case RequestTransaction:
		return fmt.Sprintf("Sign transaction with %d instruction(s)", instructionCount(req))
	case RequestBatch:
		return fmt.Sprintf("Sign %d transactions", len(req.Transactions))
	}
	return "Sign request"
}

func instructionCount(req ApprovalRequest) int {
	if len(req.Transactions) == 0 || req.Transactions[0] == nil {
		return 0
	}
	return len(req.Transactions[0].Message.Instructions)
}
