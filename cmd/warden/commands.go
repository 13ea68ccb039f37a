package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/loykin/warden/pkg/client"
)

// defaultAPIUrl is where a locally running daemon listens unless
// [server].listen says otherwise.
const defaultAPIUrl = "http://127.0.0.1:8000"

// command binds the client-mode verbs to an output writer so tests can
// capture what they print.
type command struct {
	out io.Writer
}

// dial builds an API client and verifies the daemon answers before any
// verb runs against it.
func (c *command) dial(apiUrl string, timeout time.Duration) (*client.Client, error) {
	if apiUrl == "" {
		apiUrl = defaultAPIUrl
	}
	cl := client.New(client.Config{BaseURL: apiUrl, Timeout: timeout})
	if !cl.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'warden serve'", apiUrl)
	}
	return cl, nil
}

// Start asks the daemon to launch the worker.
func (c *command) Start(f ClientFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := cl.Start(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

// Stop asks the daemon to terminate the worker and waits for the result.
func (c *command) Stop(f ClientFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	res, err := cl.Stop(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

// Status prints the full daemon report: outcome counts, recent records
// and the worker process block.
func (c *command) Status(f ClientFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	report, err := cl.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, report)
	return nil
}

// Running prints the short liveness view of the worker.
func (c *command) Running(f ClientFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	info, err := cl.IsRunning(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, info)
	return nil
}

// Log prints the tail of the worker log.
func (c *command) Log(f LogFlags) error {
	cl, err := c.dial(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	chunk, err := cl.Log(context.Background(), f.Lines)
	if err != nil {
		return err
	}
	printJSON(c.out, chunk)
	return nil
}
