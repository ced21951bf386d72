/*
Copyright 2024 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/tallyfinance/tally/config"
)

// Datasource is one postgres database. The account service and the ledger service each
// own a separate one.
type Datasource struct {
	Conn *sql.DB
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		log.Printf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewAccountDataSource connects to the database that holds accounts and the outbox.
func NewAccountDataSource(configuration *config.Configuration) (*Datasource, error) {
	con, err := ConnectDB(configuration.AccountsDataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con}, nil
}

// NewLedgerDataSource connects to the database that holds ledger entries.
func NewLedgerDataSource(configuration *config.Configuration) (*Datasource, error) {
	con, err := ConnectDB(configuration.LedgerDataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con}, nil
}

func (d *Datasource) Close() error {
	return d.Conn.Close()
}
