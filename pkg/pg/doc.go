// Package pg bootstraps pgx connection pools for the Postgres-backed
// queue storage.
//
// It provides env-tagged pool configuration, Connect with linear retry for
// reliable startup ordering against the database, and a Healthcheck closure
// for readiness endpoints:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	storage, _ := queue.NewPostgresStorage(pool)
package pg
