package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// crop_diagnoses.disease is binary so the dedup key compares exactly.
var schema = []struct {
	name string
	sql  string
}{
	{"users", `
	CREATE TABLE IF NOT EXISTS users(
		id VARCHAR(64) NOT NULL,
		name VARCHAR(255),
		preferences JSON,
		farm_details JSON,
		location JSON,
		latitude DOUBLE,
		longitude DOUBLE,
		last_sync_at DATETIME(3),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX lat_lon_index (latitude, longitude)
	)`},
	{"crop_diagnoses", `
	CREATE TABLE IF NOT EXISTS crop_diagnoses(
		id BIGINT NOT NULL AUTO_INCREMENT,
		user_id VARCHAR(64) NOT NULL,
		crop VARCHAR(128) NOT NULL,
		disease VARCHAR(255) COLLATE utf8mb4_bin NOT NULL,
		confidence DOUBLE,
		severity VARCHAR(32),
		description TEXT,
		symptoms JSON,
		treatment JSON,
		prevention JSON,
		location JSON,
		weather JSON,
		is_offline BOOL NOT NULL DEFAULT false,
		processing_time_ms BIGINT,
		model_version VARCHAR(64),
		feedback JSON,
		created_at DATETIME(3) NOT NULL,
		synced_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE INDEX dedup_index (user_id, created_at, disease),
		INDEX offline_index (user_id, is_offline, created_at)
	)`},
	{"disease_outbreaks", `
	CREATE TABLE IF NOT EXISTS disease_outbreaks(
		id BIGINT NOT NULL AUTO_INCREMENT,
		disease VARCHAR(255) NOT NULL,
		crop VARCHAR(128) NOT NULL,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		address VARCHAR(512),
		region VARCHAR(255),
		severity ENUM('low', 'medium', 'high', 'critical') NOT NULL DEFAULT 'low',
		status ENUM('active', 'contained', 'resolved') NOT NULL DEFAULT 'active',
		confirmed_cases INT NOT NULL DEFAULT 0,
		affected_area DECIMAL(14, 2) NOT NULL DEFAULT 0,
		cluster_key VARCHAR(400) NOT NULL,
		active_key VARCHAR(400) NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE INDEX active_key_index (active_key),
		INDEX geo_index (latitude, longitude),
		INDEX disease_crop_index (disease, crop, status)
	)`},
	{"outbreak_reports", `
	CREATE TABLE IF NOT EXISTS outbreak_reports(
		id BIGINT NOT NULL AUTO_INCREMENT,
		outbreak_id BIGINT NOT NULL,
		reporter_id VARCHAR(64) NOT NULL,
		severity ENUM('low', 'medium', 'high', 'critical') NOT NULL,
		affected_area DECIMAL(14, 2) NOT NULL DEFAULT 0,
		images JSON,
		notes TEXT,
		reported_at DATETIME(3) NOT NULL,
		PRIMARY KEY (id),
		INDEX outbreak_index (outbreak_id),
		CONSTRAINT fk_outbreak_reports_outbreak_id FOREIGN KEY (outbreak_id) REFERENCES disease_outbreaks(id)
	)`},
	{"analytics_events", `
	CREATE TABLE IF NOT EXISTS analytics_events(
		id BIGINT NOT NULL AUTO_INCREMENT,
		user_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		data JSON,
		event_time DATETIME(3) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX user_type_index (user_id, event_type)
	)`},
}

// InitSchema creates the necessary database tables if they don't exist
func InitSchema(ctx context.Context, db *sql.DB) error {
	log.Info("Initializing farmapp database schema...")
	for _, t := range schema {
		if _, err := db.ExecContext(ctx, t.sql); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
		log.Infof("%s table created/verified", t.name)
	}
	log.Info("Database schema initialization completed")
	return nil
}
