package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

func RunMigrations(db *sqlx.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL DEFAULT 0,
			name VARCHAR(191) NOT NULL,
			message_text TEXT NOT NULL,
			media JSON,
			buttons JSON,
			interval_min INT NOT NULL DEFAULT 0,
			interval_max INT NOT NULL DEFAULT 0,
			use_number_rotation BOOLEAN NOT NULL DEFAULT FALSE,
			status VARCHAR(20) NOT NULL DEFAULT 'draft',
			total_recipients BIGINT NOT NULL DEFAULT 0,
			sent_count BIGINT NOT NULL DEFAULT 0,
			failed_count BIGINT NOT NULL DEFAULT 0,
			opted_out_count BIGINT NOT NULL DEFAULT 0,
			start_time DATETIME,
			end_time DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_campaigns_status (status),
			INDEX idx_campaigns_created_at (created_at),
			INDEX idx_campaigns_start_time (start_time)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS recipients (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			campaign_id BIGINT NOT NULL,
			number VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			message_id VARCHAR(100),
			failed_reason VARCHAR(255),
			queued_at DATETIME,
			sent_at DATETIME,
			delivered_at DATETIME,
			read_at DATETIME,
			opted_out_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_recipients_campaign_status (campaign_id, status),
			INDEX idx_recipients_message_id (message_id),
			CONSTRAINT fk_recipients_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS instances (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL DEFAULT 0,
			name VARCHAR(191) NOT NULL UNIQUE,
			status VARCHAR(20) NOT NULL DEFAULT 'created',
			last_used_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_instances_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS campaign_instances (
			campaign_id BIGINT NOT NULL,
			instance_id BIGINT NOT NULL,
			position INT NOT NULL DEFAULT 0,
			PRIMARY KEY (campaign_id, instance_id),
			INDEX idx_campaign_instances_position (campaign_id, position),
			CONSTRAINT fk_ci_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE,
			CONSTRAINT fk_ci_instance FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS sending_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			track_id VARCHAR(36) NOT NULL,
			campaign_id BIGINT NOT NULL,
			recipient_id BIGINT NOT NULL,
			instance_id BIGINT,
			message_id VARCHAR(100),
			message_content TEXT,
			payload JSON,
			status VARCHAR(20) NOT NULL,
			detail VARCHAR(512),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_sending_logs_campaign (campaign_id, created_at),
			INDEX idx_sending_logs_message_id (message_id),
			CONSTRAINT fk_logs_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

func SeedTestData(db *sqlx.DB) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM campaigns")
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d campaigns, skipping seed", count)
		return nil
	}

	instances := []string{"primary-line", "backup-line"}
	for _, name := range instances {
		if _, err := db.Exec(
			"INSERT INTO instances (name, status) VALUES (?, 'connected')", name,
		); err != nil {
			return fmt.Errorf("failed to seed instances: %w", err)
		}
	}

	res, err := db.Exec(`
		INSERT INTO campaigns (name, message_text, interval_min, interval_max, use_number_rotation, status)
		VALUES ('Welcome campaign', '{Hi|Hello|Hey}! Thanks for joining {us|our community}.', 3, 8, TRUE, 'draft')
	`)
	if err != nil {
		return fmt.Errorf("failed to seed campaign: %w", err)
	}

	campaignID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	numbers := []string{
		"+905551234567",
		"+905559876543",
		"+905551112233",
		"+905554445566",
		"+905557778899",
	}
	for _, number := range numbers {
		if _, err := db.Exec(
			"INSERT INTO recipients (campaign_id, number, status) VALUES (?, ?, 'pending')",
			campaignID, number,
		); err != nil {
			return fmt.Errorf("failed to seed recipients: %w", err)
		}
	}

	if _, err := db.Exec(`
		INSERT INTO campaign_instances (campaign_id, instance_id, position)
		SELECT ?, id, id FROM instances
	`, campaignID); err != nil {
		return fmt.Errorf("failed to seed campaign instances: %w", err)
	}

	logger.Infof("Seeded 1 campaign with %d recipients and %d instances", len(numbers), len(instances))
	return nil
}
