/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai-debugger-inc/aidb/internal/commands"
	"github.com/ai-debugger-inc/aidb/pkg/logger"
	"github.com/ai-debugger-inc/aidb/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("aidb")
	defer func() {
		if r := recover(); r != nil {
			_ = resiliency.MakePanicError(r, log.Logger)
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root, err := commands.NewRootCommand(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		log.Flush()
		os.Exit(errSetup)
	}

	err = root.ExecuteContext(ctx)
	cancel()
	log.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errCommandError)
	}
}
