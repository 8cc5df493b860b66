package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

const prompt = "stock> "

// Shell reads one command per line from in until EOF or "exit". Errors are
// printed and do not stop the loop.
func (r *Runner) Shell(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out, strings.Join(r.Names(), "\n"))
		default:
			args, err := SplitArgs(line)
			if err == nil {
				var result string
				result, err = r.Run(ctx, args)
				if result != "" {
					fmt.Fprintln(out, result)
				}
			}
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		}
		fmt.Fprint(out, prompt)
	}
	return scanner.Err()
}

// SplitArgs splits a command line into words with shell quoting rules, so a
// date can be written --date "11/03/2025 09:00:00" and a quote escaped with
// a backslash.
func SplitArgs(line string) ([]string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return args, nil
}
