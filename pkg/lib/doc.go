// Package lib provides a Go SDK to drive dpkg runs programmatically.
//
// A [Client] queues operations (install, configure, remove, purge), splits
// them in dpkg invocations, runs the configured hooks around them and
// reports the progress dpkg writes on its status descriptor. Every run is
// recorded on a journal.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{
//	    OnProgress: func(ev lib.Event) {
//	        fmt.Printf("[%3.0f%%] %s\n", ev.Percentage, ev.Message)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	run, err := client.Run(ctx, []lib.Operation{
//	    {Kind: lib.OperationInstall, Package: "hello", Archive: "/var/cache/apt/archives/hello_2.10-3_amd64.deb", Version: "2.10-3"},
//	    {Kind: lib.OperationConfigure, Package: "hello"},
//	})
//
// # Catalog
//
// Configure and remove operations need the package to be known. Install
// operations register their package, [Client.ImportStatus] imports the
// installed packages of a dpkg status database and [Client.SetPackage]
// registers a single one.
//
// # Configuration
//
// The driver uses apt style `::` keys (e.g. `Dir::Bin::dpkg`,
// `DPkg::Pre-Invoke`, `DPkg::Options`). Load them from YAML files with
// [Config].ConfigFiles or set them with [Config].Settings:
//
//	client, err := lib.New(ctx, lib.Config{
//	    Settings: []string{
//	        "Dir::Bin::dpkg=/usr/bin/dpkg",
//	        "DPkg::Options::=--force-confold",
//	    },
//	})
//
// # Error Handling
//
// Errors can be inspected with [errors.Is] against [ErrNotFound],
// [ErrNotValid], [ErrInvalidOperation], [ErrSpawn], [ErrHookFailure],
// [ErrToolCrash] and [ErrToolNonZeroExit].
//
// # Persistence
//
// By default the catalog and the journal live in memory. Set [Config].DBPath
// to keep them on a SQLite database shared with the dpkgdrv CLI.
package lib
