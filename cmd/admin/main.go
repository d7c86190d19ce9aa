package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"anonchat/backend/internal/app"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  provision                          create tables and secondary indexes
  replay                             flush journaled writes to the remote store
  queue                              list waiting users
  end-chat <chat_id>                 end a chat session
  ban <user_id> [level]              ban a user (level 1-3, escalates when omitted)
  unban <user_id>                    lift a ban
  confirm-report <chat_id> <report_id>  confirm a report and reward the reporter`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one admin command and returns the process exit code. Deferred
// cleanup runs before main exits.
func run(argv []string) int {
	if len(argv) < 1 {
		fmt.Println(usage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		return 1
	}
	log := logger.New(cfg.Server.Mode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fail(log, "failed to initialize: %v", err)
	}
	defer a.Close()

	command, args := argv[0], argv[1:]

	switch command {
	case "provision":
		if a.Dynamo == nil {
			return fail(log, "no DynamoDB region or endpoint configured")
		}
		if err := a.Dynamo.EnsureTables(ctx, app.Collections, app.Indexes); err != nil {
			return fail(log, "provisioning failed: %v", err)
		}
		fmt.Printf("Provisioned %d tables and %d indexes.\n", len(app.Collections), len(app.Indexes))
	case "replay":
		n, err := a.Store.Replay(ctx)
		if err != nil {
			return fail(log, "replay stopped after %d writes: %v", n, err)
		}
		fmt.Printf("Replayed %d writes, %d pending.\n", n, a.Store.PendingWrites())
	case "queue":
		entries := a.Queue.ListQueued(ctx)
		if len(entries) == 0 {
			fmt.Println("Nobody is waiting.")
			return 0
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\tage=%v\tinterests=%v\n",
				e.UserID, e.EnqueuedAt.Format(time.RFC3339), e.Preferences.AgeRange, e.Preferences.Interests)
		}
	case "end-chat":
		if !requireArgs(args, 1, "admin end-chat <chat_id>") {
			return 1
		}
		if _, err := a.Chats.EndChat(ctx, args[0], ""); err != nil {
			return fail(log, "error ending chat: %v", err)
		}
		fmt.Printf("Chat %s has been ended.\n", args[0])
	case "ban":
		level, ok := banLevel(args)
		if !ok {
			return 1
		}
		if err := a.Complaints.Ban(ctx, args[0], level); err != nil {
			return fail(log, "error banning user: %v", err)
		}
		fmt.Printf("User %s has been banned.\n", args[0])
	case "unban":
		if !requireArgs(args, 1, "admin unban <user_id>") {
			return 1
		}
		if err := a.Complaints.Unban(ctx, args[0]); err != nil {
			return fail(log, "error unbanning user: %v", err)
		}
		fmt.Printf("User %s has been unbanned.\n", args[0])
	case "confirm-report":
		if !requireArgs(args, 2, "admin confirm-report <chat_id> <report_id>") {
			return 1
		}
		r, err := a.Complaints.ConfirmReport(ctx, args[0], args[1])
		if err != nil {
			return fail(log, "error confirming report: %v", err)
		}
		fmt.Printf("Report %s has been confirmed, reporter %s rewarded.\n", r.ID, r.ReporterID)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		return 1
	}
	return 0
}

// banLevel reads the optional level argument; 0 means escalate.
func banLevel(args []string) (int, bool) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("Usage: admin ban <user_id> [level]")
		return 0, false
	}
	if len(args) == 1 {
		return 0, true
	}
	level, err := strconv.Atoi(args[1])
	if err != nil || level < 1 || level > 3 {
		fmt.Println("Invalid level. Please provide 1, 2 or 3.")
		return 0, false
	}
	return level, true
}

func requireArgs(args []string, n int, line string) bool {
	if len(args) != n {
		fmt.Println("Usage: " + line)
		return false
	}
	return true
}

func fail(log *logger.Logger, format string, args ...any) int {
	log.Errorf(format, args...)
	return 1
}
