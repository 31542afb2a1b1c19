package database

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Package database holds the process-wide gorm handle. main opens the
// sqlite file, runs migrations, then hands the handle over via Init;
// everything else reaches it through Get.

var db *gorm.DB
var log *logrus.Logger

func Init(d *gorm.DB, logger *logrus.Logger) error {
	db = d
	log = logger.WithFields(logrus.Fields{
		"component": "database",
	}).Logger
	return nil
}

func Get() *gorm.DB {
	if db == nil {
		panic("database used before Init")
	}
	return db
}

// Fini closes the underlying connection so sqlite flushes cleanly on
// shutdown.
func Fini() {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorln("closing database:", cerr)
		}
	}
	db = nil
}
