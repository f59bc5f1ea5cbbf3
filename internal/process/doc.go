// Package process runs external commands on behalf of devices.
//
// Run executes a short command under a hard timeout and kills its whole
// process group when the timeout fires. Manager supervises a long-running
// command, hands each stdout line to a callback and restarts the command
// when it exits on its own.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:          "door-events",
//	    Command:       "/usr/local/bin/watch-door",
//	    RestartOnExit: true,
//	    OnLine:        func(line string) { emit(line) },
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
