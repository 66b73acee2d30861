package main

import (
	"flag"

	"alertflow/conf"
	"alertflow/pkg/cache"
	"alertflow/pkg/db"
	"alertflow/pkg/logger"
)

var configPath = flag.String("c", "conf/config.yaml", "配置文件路径")

func main() {
	flag.Parse()

	// 加载配置文件
	if err := conf.LoadConfig(*configPath); err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(conf.AppConfig.Log)
	defer logger.Sync()

	gdb := db.Init(conf.AppConfig.Db)
	defer db.Close()

	cache.InitRedis(conf.AppConfig.Redis)
	defer cache.CloseRedis()

	app, err := initApp(gdb)
	if err != nil {
		logger.Fatalf("Failed to init app: %v", err)
	}
	app.Start()

	srv := NewServer(&conf.AppConfig)
	srv.RegisterOnShutdown(app.Shutdown)
	srv.Run(app.Router)
}
