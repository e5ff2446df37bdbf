package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order on startup.  Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(100) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL DEFAULT '',
		role          ENUM('ADMIN','GUEST') NOT NULL,
		is_active     TINYINT(1) NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		deleted_at    DATETIME NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS admin_profiles (
		user_id    BIGINT UNSIGNED PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name  VARCHAR(100) NOT NULL,
		email      VARCHAR(100) NOT NULL UNIQUE,
		phone      VARCHAR(20) NOT NULL DEFAULT '',
		CONSTRAINT fk_admin_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS guest_profiles (
		user_id    BIGINT UNSIGNED PRIMARY KEY,
		nickname   VARCHAR(50) NOT NULL,
		expires_at DATETIME NULL,
		CONSTRAINT fk_guest_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL UNIQUE,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT fk_token_user FOREIGN KEY (user_id) REFERENCES users(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id               BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		room_code        VARCHAR(20) NOT NULL UNIQUE,
		name             VARCHAR(100) NOT NULL,
		description      VARCHAR(500) NOT NULL DEFAULT '',
		type             ENUM('TEXT','MULTIMEDIA') NOT NULL DEFAULT 'TEXT',
		pin_hash         VARCHAR(255) NOT NULL,
		max_users        INT NOT NULL,
		current_users    INT NOT NULL DEFAULT 0,
		max_file_size_mb INT NOT NULL DEFAULT 10,
		is_active        TINYINT(1) NOT NULL DEFAULT 1,
		creator_id       BIGINT UNSIGNED NOT NULL,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		deleted_at       DATETIME NULL,
		INDEX idx_room_creator (creator_id),
		INDEX idx_room_deleted_at (deleted_at),
		CONSTRAINT chk_room_occupancy CHECK (current_users >= 0),
		CONSTRAINT fk_room_creator FOREIGN KEY (creator_id) REFERENCES users(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		room_id    BIGINT UNSIGNED NOT NULL,
		device_id  VARCHAR(100) NOT NULL,
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent VARCHAR(500) NOT NULL DEFAULT '',
		is_active  TINYINT(1) NOT NULL DEFAULT 1,
		joined_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		left_at    DATETIME NULL,
		INDEX idx_session_user_active (user_id, is_active),
		INDEX idx_session_room_active (room_id, is_active),
		CONSTRAINT fk_session_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_session_room FOREIGN KEY (room_id) REFERENCES rooms(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		room_id      BIGINT UNSIGNED NOT NULL,
		user_id      BIGINT UNSIGNED NOT NULL,
		session_id   BIGINT UNSIGNED NOT NULL,
		content      TEXT NOT NULL,
		message_type ENUM('TEXT','FILE','SYSTEM') NOT NULL DEFAULT 'TEXT',
		sent_at      DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		is_edited    TINYINT(1) NOT NULL DEFAULT 0,
		edited_at    DATETIME NULL,
		is_deleted   TINYINT(1) NOT NULL DEFAULT 0,
		deleted_at   DATETIME NULL,
		INDEX idx_message_room_sent (room_id, sent_at),
		CONSTRAINT fk_message_room FOREIGN KEY (room_id) REFERENCES rooms(id),
		CONSTRAINT fk_message_user FOREIGN KEY (user_id) REFERENCES users(id),
		CONSTRAINT fk_message_session FOREIGN KEY (session_id) REFERENCES user_sessions(id)
	) ENGINE=InnoDB`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
