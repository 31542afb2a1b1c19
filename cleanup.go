package main

import (
	"time"

	"screencast-site/config"
	"screencast-site/database"
	"screencast-site/sessions"
)

func sweepStaleSessions(store *sessions.Store) {
	log.Debugln("sweepStaleSessions...")
	removed := store.Sweep(config.GetSessionTTL())
	if removed > 0 {
		log.Infof("swept %d stale recording sessions", removed)
	}
}

func vacuumDatabase() {
	if err := database.Get().Exec("VACUUM").Error; err != nil {
		log.Errorln(err)
	}
}

func PeriodicCleanup(store *sessions.Store) {
	sweepStaleSessions(store)
	vacuumDatabase()
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		sweepStaleSessions(store)
		vacuumDatabase()
	}
}
