/*
 * Flowpath - A Software Dataplane
 *
 * Copyright (C) 2015 Flowgrammable.org. All rights reserved.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/flowgrammable/flowpath/api"
	"github.com/flowgrammable/flowpath/app/hub"
	"github.com/flowgrammable/flowpath/app/l2switch"
	"github.com/flowgrammable/flowpath/app/wire"
	"github.com/flowgrammable/flowpath/dataplane"
	"github.com/flowgrammable/flowpath/port"

	"github.com/fsnotify/fsnotify"
	"github.com/op/go-logging"
	"github.com/spf13/viper"
)

const (
	programName     = "flowpath"
	programVersion  = "0.1.0"
	defaultLogLevel = logging.INFO
)

// Exit codes.
const (
	exitOkay    = 0
	exitConfig  = 1
	exitRuntime = 2
	exitAppLoad = 3
)

var (
	logger            = logging.MustGetLogger("main")
	loggerLeveled     logging.LeveledBackend
	showVersion       = flag.Bool("version", false, "Show program version and exit")
	defaultConfigFile = flag.String("config", fmt.Sprintf("/usr/local/etc/%v.yaml", programName), "absolute path of the configuration file")
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	flag.Parse()
	if *showVersion {
		fmt.Printf("Version: %v\n", programVersion)
		os.Exit(exitOkay)
	}

	initConfig()
	if err := initLog(getLogLevel(viper.GetString("default.log_level"))); err != nil {
		logger.Errorf("failed to init log: %v", err)
		os.Exit(exitConfig)
	}

	rt, err := dataplane.New(dataplaneConfig())
	if err != nil {
		logger.Errorf("failed to init the runtime: %v", err)
		os.Exit(exitConfig)
	}
	if err := allocPorts(rt); err != nil {
		logger.Errorf("failed to alloc ports: %v", err)
		os.Exit(exitConfig)
	}

	dp, err := createDataplane(rt)
	if err != nil {
		logger.Errorf("failed to create the dataplane: %v", err)
		os.Exit(exitConfig)
	}
	if err := dp.Load(); err != nil {
		logger.Errorf("failed to load the application: %v", err)
		os.Exit(exitAppLoad)
	}
	if err := dp.Start(); err != nil {
		logger.Errorf("failed to start the dataplane: %v", err)
		os.Exit(exitRuntime)
	}

	initSignalHandler(rt, dp)

	server := &api.Server{
		Port:    uint16(viper.GetInt("default.api_port")),
		Runtime: rt,
	}
	server.TLS.Cert = viper.GetString("default.tls_cert")
	server.TLS.Key = viper.GetString("default.tls_key")
	if err := server.Serve(); err != nil {
		logger.Errorf("API server failed: %v", err)
		os.Exit(exitRuntime)
	}
}

func initConfig() {
	viper.SetConfigFile(*defaultConfigFile)
	viper.SetDefault("default.log_level", "INFO")
	viper.SetDefault("default.api_port", 7171)
	viper.SetDefault("default.dataplane", "dp0")
	viper.SetDefault("default.application", "hub")
	viper.SetDefault("default.buffer_count", 4096)
	viper.SetDefault("default.buffer_size", 2048)
	viper.SetDefault("default.metadata_size", 256)
	viper.SetDefault("default.goto_depth", 16)
	viper.SetDefault("default.tx_queue_len", port.DefaultTxQueueLen)

	// Read the config file.
	if err := viper.ReadInConfig(); err != nil {
		logger.Errorf("failed to read the config file: %v", err)
		os.Exit(exitConfig)
	}
	// Watching and re-reading config file whenever it changes.
	viper.OnConfigChange(func(e fsnotify.Event) {
		// Ignore the WRITE operation to avoid reading empty config.
		if e.Op&fsnotify.Write == fsnotify.Write {
			return
		}

		if loggerLeveled != nil {
			// Set log level for all modules
			loggerLeveled.SetLevel(getLogLevel(viper.GetString("default.log_level")), "")
		}
	})
	viper.WatchConfig()
}

func initLog(level logging.Level) error {
	backend, err := newSyslog(programName)
	if err != nil {
		return err
	}
	backend = logging.NewBackendFormatter(backend, logging.MustStringFormatter(`%{level}: %{shortpkg}.%{shortfunc}: %{message}`))

	loggerLeveled = logging.AddModuleLevel(backend)
	// Set log level for all modules
	loggerLeveled.SetLevel(level, "")
	logging.SetBackend(loggerLeveled)

	return nil
}

func getLogLevel(level string) logging.Level {
	level = strings.ToUpper(level)
	ret, err := logging.LogLevel(level)
	if err != nil {
		logger.Infof("invalid log level=%v, defaulting to %v..", level, defaultLogLevel)
		return defaultLogLevel
	}

	return ret
}

func dataplaneConfig() dataplane.Config {
	return dataplane.Config{
		BufferCount:  viper.GetInt("default.buffer_count"),
		BufferSize:   viper.GetInt("default.buffer_size"),
		MetadataSize: viper.GetInt("default.metadata_size"),
		GotoDepth:    viper.GetInt("default.goto_depth"),
		TxQueueLen:   viper.GetInt("default.tx_queue_len"),
	}
}

type portConfig struct {
	Name string
	Type string
	Args string
}

func portConfigs() ([]portConfig, error) {
	var out []portConfig
	if err := viper.UnmarshalKey("ports", &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no ports configured")
	}

	return out, nil
}

func allocPorts(rt *dataplane.Runtime) error {
	configs, err := portConfigs()
	if err != nil {
		return err
	}
	for _, c := range configs {
		typ, err := port.ParseType(c.Type)
		if err != nil {
			return fmt.Errorf("port %v: %v", c.Name, err)
		}
		if _, err := rt.Ports().Alloc(typ, c.Name, c.Args); err != nil {
			return fmt.Errorf("port %v: %v", c.Name, err)
		}
	}

	return nil
}

// newApplication builds the library bundle of a built-in application.
// Dynamic loading reduces to this registry.
func newApplication(name string) (dataplane.Library, error) {
	switch strings.ToLower(name) {
	case "hub":
		return hub.Library(), nil
	case "wire":
		return wire.Library(viper.GetString("wire.a"), viper.GetString("wire.b")), nil
	case "l2switch":
		return l2switch.Library(), nil
	default:
		return dataplane.Library{}, fmt.Errorf("unknown application: %v", name)
	}
}

func createDataplane(rt *dataplane.Runtime) (*dataplane.Dataplane, error) {
	appName := viper.GetString("default.application")
	lib, err := newApplication(appName)
	if err != nil {
		return nil, err
	}
	if err := rt.LoadApplication(appName, lib); err != nil {
		return nil, err
	}

	dp, err := rt.CreateDataplane(viper.GetString("default.dataplane"), appName)
	if err != nil {
		return nil, err
	}
	for _, p := range rt.Ports().Ports() {
		if p.Type() == port.TypeDrop || p.Type() == port.TypeFlood {
			continue
		}
		dp.AddPort(p)
	}

	return dp, nil
}

func initSignalHandler(rt *dataplane.Runtime, dp *dataplane.Dataplane) {
	go func() {
		c := make(chan os.Signal, 5)
		// All incoming signals will be transferred to the channel
		signal.Notify(c)

		for {
			s := <-c
			if s == syscall.SIGTERM || s == syscall.SIGINT {
				// Graceful shutdown
				logger.Info("Shutting down...")
				if err := rt.DeleteDataplane(dp.Name()); err != nil {
					logger.Errorf("failed to tear down the dataplane: %v", err)
				}
				os.Exit(exitOkay)
			} else if s == syscall.SIGHUP {
				fmt.Println("* Runtime status:")
				fmt.Println(rt.String())
			}
		}
	}()
}
