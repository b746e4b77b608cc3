// Package server assembles the shopadmin API process: storage, cache,
// verifiers, stores, routes and the background jobs that run beside the
// HTTP listeners.
//
//	srv, err := server.New(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
package server
