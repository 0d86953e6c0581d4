// Package client holds the provider-neutral pieces of running a headless
// agent CLI as a child process.
//
// SpawnBuilder starts the process with stdin, stdout and stderr piped, in
// its own process group, with an optional timeout:
//
//	h, err := client.NewSpawnBuilder(ctx).
//	    WithExecutable("gemini", args).
//	    WithWorkDir(dir).
//	    WithTimeout(5 * time.Minute).
//	    WithProviderName("gemini").
//	    Start()
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
// Lifecycle tracks one invocation through ProcessStatus. Terminal statuses
// are absorbing, so the first Settle decides the outcome.
package client
