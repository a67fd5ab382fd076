// Package redis bootstraps go-redis clients for the Redis-backed queue
// storage.
//
// It provides env-tagged configuration, Connect with retry bounded by a
// connect timeout, and a Healthcheck closure for readiness endpoints:
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	storage, _ := queue.NewRedisStorage(client)
package redis
