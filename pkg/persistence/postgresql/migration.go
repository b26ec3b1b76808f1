package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL DEFAULT '',
				workspace_id VARCHAR(255) NOT NULL DEFAULT '',
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				input JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			CREATE TABLE node_executions (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(255) NOT NULL UNIQUE,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				input JSONB,
				output JSONB,
				status VARCHAR(50) NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				logs JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_node_executions_execution_id ON node_executions(execution_id);
		`,
		2: `
			CREATE TABLE dead_letters (
				execution_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL DEFAULT '',
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				workspace_id VARCHAR(255) NOT NULL DEFAULT '',
				tier VARCHAR(50) NOT NULL DEFAULT '',
				failed_node_id VARCHAR(255) NOT NULL DEFAULT '',
				graph JSONB NOT NULL,
				message JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				context_summary JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_dead_letters_created_at ON dead_letters(created_at);

			CREATE TABLE audit_logs (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL DEFAULT '',
				workspace_id VARCHAR(255) NOT NULL DEFAULT '',
				action VARCHAR(100) NOT NULL,
				details JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_logs_user_id ON audit_logs(user_id);
			CREATE INDEX idx_audit_logs_workspace_id ON audit_logs(workspace_id);
			CREATE INDEX idx_audit_logs_created_at ON audit_logs(created_at);

			CREATE TABLE usage_records (
				workspace_id VARCHAR(255) NOT NULL,
				period CHAR(7) NOT NULL,
				tasks BIGINT NOT NULL DEFAULT 0,
				tokens BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workspace_id, period)
			);
		`,
	}
}
