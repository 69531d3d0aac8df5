package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/mailtriage/internal/dispatch"
	"github.com/mailtriage/pkg/models"
)

// FetchCommand ingests new mail once
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Ingest new messages from the mailbox",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.runner.Fetch(c.Context)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}
			fmt.Printf("%d new items\n", n)
			return nil
		},
	}
}

// HandleOneCommand runs one backlog pass
func HandleOneCommand() *cli.Command {
	return &cli.Command{
		Name:  "handle-one",
		Usage: "Classify and publish the oldest unpublished item",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.runner.HandleOne(c.Context)
			if err != nil {
				return fmt.Errorf("backlog pass failed: %w", err)
			}
			if res.Status == dispatch.StatusNoItem {
				fmt.Println("No unresolved items")
				return nil
			}
			fmt.Printf("%s %s in thread %s\n", res.Status, res.Key, res.Thread.TS)
			return printJSON(res.Classification)
		},
	}
}

// ReplyCommand answers an item's thread from the command line
func ReplyCommand() *cli.Command {
	return &cli.Command{
		Name:      "reply",
		Usage:     "Send a reply into an item's thread and print the answer",
		ArgsUsage: "THREAD_TS TEXT",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("missing required arguments: THREAD_TS TEXT")
			}
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			reply, err := a.runner.Reply(c.Context, c.Args().Get(0), c.Args().Get(1))
			if reply != "" {
				fmt.Println(reply)
			}
			return err
		},
	}
}

// TranscriptCommand prints an item's conversation
func TranscriptCommand() *cli.Command {
	return &cli.Command{
		Name:      "transcript",
		Usage:     "Print the stored conversation of an item",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Item type",
				Value: string(models.ItemTypeGmail),
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: ID")
			}
			itemType, err := models.ParseItemType(c.String("type"))
			if err != nil {
				return err
			}
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.engine.Transcript(c.Context, models.ItemKey{Type: itemType, ID: c.Args().Get(0)})
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", t.Item.Key(), t.State)
			for _, l := range t.Lines {
				fmt.Printf("\n[%d] %s\n%s\n", l.Seq, l.Role, l.Content)
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
