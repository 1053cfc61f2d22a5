package config

import (
	log "github.com/sirupsen/logrus"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"
)

func PrintMemUsage() {
	bToMb := func(b uint64) uint64 {
		return b / 1024 / 1024
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.WithField("prof", true).Debugf("Alloc = %v MiB\tTotalAlloc = %v MiB\tSys = %v MiB\tGoroutines = %v\tNumGC = %v",
		bToMb(m.Alloc),
		bToMb(m.TotalAlloc),
		bToMb(m.Sys),
		runtime.NumGoroutine(),
		m.NumGC)
}

// InitProfiling serves pprof when PprofHost is set and keeps a memory
// usage line ticking in the debug log. Long playlist downloads are the
// only place this earns its keep.
func InitProfiling() {
	if Config.PprofHost != "" {
		go func() {
			err := http.ListenAndServe(Config.PprofHost, nil)
			if err != nil {
				log.WithField("prof", true).Warnf("pprof listen failed: %v", err)
			}
		}()
	}
	go func() {
		ticker := time.NewTicker(time.Minute * 1)
		for {
			PrintMemUsage()
			<-ticker.C
		}
	}()
}
