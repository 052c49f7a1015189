// Package repositories is the persistence layer for every entity: one
// struct per table, a *sql.DB held directly, explicit SQL, and a
// Repositories aggregate that also exposes BeginTx for the document
// graph's transactional operations.
package repositories

import (
	"database/sql"

	"docpipe/internal/db"
)

// Repositories aggregates every table-scoped repository and holds the
// shared connection for transaction boundaries.
type Repositories struct {
	Documents     *DocumentRepo
	DocumentTypes *DocumentTypeRepo
	Sources       *SourceRepo
	Workflows     *WorkflowStepRepo
	Jobs          *JobRepo
	Events        *EventRepo
	PluginConfigs *PluginConfigRepo

	database db.Database
}

func New(database db.Database) *Repositories {
	conn := database.Conn()
	return &Repositories{
		Documents:     NewDocumentRepo(conn),
		DocumentTypes: NewDocumentTypeRepo(conn),
		Sources:       NewSourceRepo(conn),
		Workflows:     NewWorkflowStepRepo(conn),
		Jobs:          NewJobRepo(conn),
		Events:        NewEventRepo(conn),
		PluginConfigs: NewPluginConfigRepo(conn),
		database:      database,
	}
}

// BeginTx starts a database transaction, used by the Document Graph to
// make insert-with-children and cascade-delete atomic.
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.database.Conn().Begin()
}
