// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/workflow/runtime"
)

var (
	processInstanceColumns = []string{
		"key", "process_guid", "version", "app_name", "app_instance_id", "state",
		"parent_process_instance_key", "invoked_activity_instance_key",
		"created_by_user_id", "created_by_user_name", "created_at",
		"ended_by_user_id", "ended_by_user_name", "ended_at",
	}
	activityInstanceColumns = []string{
		"key", "process_instance_key", "app_name", "app_instance_id", "process_guid",
		"activity_guid", "activity_name", "activity_type", "gateway_direction", "state",
		"complex_type", "merge_type", "compare_type", "sign_forward_type", "complete_order",
		"mi_host_activity_instance_key", "assigned_to_user_ids", "assigned_to_user_names",
		"tokens_required", "tokens_had",
		"created_by_user_id", "created_by_user_name", "created_at",
		"ended_by_user_id", "ended_by_user_name", "ended_at",
	}
	taskInstanceColumns = []string{
		"key", "activity_instance_key", "process_instance_key", "app_name", "app_instance_id",
		"process_guid", "activity_guid", "activity_name", "assigned_to_user_id", "assigned_to_user_name",
		"state", "is_email_sent",
		"created_by_user_id", "created_by_user_name", "created_at",
		"last_updated_by_user_id", "last_updated_by_user_name", "last_updated_at",
		"ended_by_user_id", "ended_by_user_name", "ended_at", "entrusted_task_key",
	}
	transitionInstanceColumns = []string{
		"key", "process_instance_key", "transition_guid",
		"from_activity_instance_key", "from_activity_guid", "to_activity_instance_key", "to_activity_guid",
		"transition_type", "flying_type", "created_by_user_id", "created_by_user_name", "created_at",
	}
)

func selectList(alias string, columns []string) string {
	if alias == "" {
		return strings.Join(columns, ", ")
	}
	prefixed := make([]string, len(columns))
	for i, c := range columns {
		prefixed[i] = alias + "." + c
	}
	return strings.Join(prefixed, ", ")
}

func upsert(table string, columns []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// reader implements storage.Reader on a database or an open transaction.
type reader struct {
	q querier
}

var _ storage.Reader = &reader{}

func scanProcessInstance(row scanner) (runtime.ProcessInstance, error) {
	var pi runtime.ProcessInstance
	var parent, invoked, endedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&pi.Key, &pi.ProcessGUID, &pi.Version, &pi.AppName, &pi.AppInstanceID, &pi.State,
		&parent, &invoked, &pi.CreatedByUserID, &pi.CreatedByUserName, &createdAt,
		&pi.EndedByUserID, &pi.EndedByUserName, &endedAt)
	if err != nil {
		return pi, err
	}
	pi.ParentProcessInstanceKey = fromNullInt64(parent)
	pi.InvokedActivityInstanceKey = fromNullInt64(invoked)
	pi.CreatedAt = fromMicros(createdAt)
	pi.EndedAt = fromNullMicros(endedAt)
	return pi, nil
}

func (r *reader) FindProcessInstanceByKey(ctx context.Context, processInstanceKey int64) (runtime.ProcessInstance, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+selectList("", processInstanceColumns)+" FROM process_instance WHERE key = ?", processInstanceKey)
	pi, err := scanProcessInstance(row)
	if err != nil {
		return pi, fmt.Errorf("failed to find process instance %d: %w", processInstanceKey, notFound(err))
	}
	return pi, nil
}

func (r *reader) FindChildProcessInstances(ctx context.Context, parentProcessInstanceKey int64) ([]runtime.ProcessInstance, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+selectList("", processInstanceColumns)+" FROM process_instance WHERE parent_process_instance_key = ? ORDER BY key", parentProcessInstanceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find child process instances of %d: %w", parentProcessInstanceKey, err)
	}
	defer rows.Close()
	res := make([]runtime.ProcessInstance, 0)
	for rows.Next() {
		pi, err := scanProcessInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, pi)
	}
	return res, rows.Err()
}

func scanActivityInstance(row scanner) (runtime.ActivityInstance, error) {
	var ai runtime.ActivityInstance
	var completeOrder sql.NullFloat64
	var host, endedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&ai.Key, &ai.ProcessInstanceKey, &ai.AppName, &ai.AppInstanceID, &ai.ProcessGUID,
		&ai.ActivityGUID, &ai.ActivityName, &ai.ActivityType, &ai.GatewayDirection, &ai.State,
		&ai.ComplexType, &ai.MergeType, &ai.CompareType, &ai.SignForwardType, &completeOrder,
		&host, &ai.AssignedToUserIDs, &ai.AssignedToUserNames,
		&ai.TokensRequired, &ai.TokensHad,
		&ai.CreatedByUserID, &ai.CreatedByUserName, &createdAt,
		&ai.EndedByUserID, &ai.EndedByUserName, &endedAt)
	if err != nil {
		return ai, err
	}
	ai.CompleteOrder = fromNullFloat64(completeOrder)
	ai.MIHostActivityInstanceKey = fromNullInt64(host)
	ai.CreatedAt = fromMicros(createdAt)
	ai.EndedAt = fromNullMicros(endedAt)
	return ai, nil
}

func (r *reader) FindActivityInstanceByKey(ctx context.Context, activityInstanceKey int64) (runtime.ActivityInstance, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+selectList("", activityInstanceColumns)+" FROM activity_instance WHERE key = ?", activityInstanceKey)
	ai, err := scanActivityInstance(row)
	if err != nil {
		return ai, fmt.Errorf("failed to find activity instance %d: %w", activityInstanceKey, notFound(err))
	}
	return ai, nil
}

func (r *reader) FindActivityInstances(ctx context.Context, filter storage.ActivityInstanceFilter) ([]runtime.ActivityInstance, error) {
	where := []string{"1 = 1"}
	args := []any{}
	if filter.ProcessInstanceKey != 0 {
		where = append(where, "process_instance_key = ?")
		args = append(args, filter.ProcessInstanceKey)
	}
	if filter.ActivityGUID != "" {
		where = append(where, "activity_guid = ?")
		args = append(args, filter.ActivityGUID)
	}
	if filter.MIHostActivityInstanceKey != nil {
		where = append(where, "mi_host_activity_instance_key = ?")
		args = append(args, *filter.MIHostActivityInstanceKey)
	}
	if len(filter.States) > 0 {
		var clause string
		clause, args = inClause("state", filter.States, args)
		where = append(where, clause)
	}
	query := "SELECT " + selectList("", activityInstanceColumns) + " FROM activity_instance WHERE " + strings.Join(where, " AND ") + " ORDER BY key"
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find activity instances: %w", err)
	}
	defer rows.Close()
	res := make([]runtime.ActivityInstance, 0)
	for rows.Next() {
		ai, err := scanActivityInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ai)
	}
	return res, rows.Err()
}

func scanTask(row scanner) (runtime.TaskInstance, error) {
	var task runtime.TaskInstance
	var lastUpdatedAt, endedAt, entrusted sql.NullInt64
	var createdAt int64
	err := row.Scan(&task.Key, &task.ActivityInstanceKey, &task.ProcessInstanceKey, &task.AppName, &task.AppInstanceID,
		&task.ProcessGUID, &task.ActivityGUID, &task.ActivityName, &task.AssignedToUserID, &task.AssignedToUserName,
		&task.State, &task.IsEMailSent,
		&task.CreatedByUserID, &task.CreatedByUserName, &createdAt,
		&task.LastUpdatedByUserID, &task.LastUpdatedByUserName, &lastUpdatedAt,
		&task.EndedByUserID, &task.EndedByUserName, &endedAt, &entrusted)
	if err != nil {
		return task, err
	}
	task.CreatedAt = fromMicros(createdAt)
	task.LastUpdatedAt = fromNullMicros(lastUpdatedAt)
	task.EndedAt = fromNullMicros(endedAt)
	task.EntrustedTaskKey = fromNullInt64(entrusted)
	return task, nil
}

func (r *reader) FindTaskByKey(ctx context.Context, taskKey int64) (runtime.TaskInstance, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+selectList("", taskInstanceColumns)+" FROM task_instance WHERE key = ?", taskKey)
	task, err := scanTask(row)
	if err != nil {
		return task, fmt.Errorf("failed to find task %d: %w", taskKey, notFound(err))
	}
	return task, nil
}

func (r *reader) FindTasksByActivityInstance(ctx context.Context, activityInstanceKey int64) ([]runtime.TaskInstance, error) {
	return r.queryTasks(ctx, "SELECT "+selectList("", taskInstanceColumns)+" FROM task_instance WHERE activity_instance_key = ? ORDER BY key", activityInstanceKey)
}

func (r *reader) FindTasks(ctx context.Context, query storage.TaskQuery) ([]runtime.TaskInstance, int, error) {
	where := []string{"1 = 1"}
	args := []any{}
	if query.UserID != "" {
		where = append(where, "t.assigned_to_user_id = ?")
		args = append(args, query.UserID)
	}
	if query.AppInstanceID != "" {
		where = append(where, "t.app_instance_id = ?")
		args = append(args, query.AppInstanceID)
	}
	if query.ProcessGUID != "" {
		where = append(where, "t.process_guid = ?")
		args = append(args, query.ProcessGUID)
	}
	if query.AppName != "" {
		where = append(where, "instr(t.app_name, ?) > 0")
		args = append(args, query.AppName)
	}
	if query.EndedByUserID != "" {
		where = append(where, "t.ended_by_user_id = ?")
		args = append(args, query.EndedByUserID)
	}
	if len(query.TaskStates) > 0 {
		var clause string
		clause, args = inClause("t.state", query.TaskStates, args)
		where = append(where, clause)
	}
	if query.EMailSent != nil {
		where = append(where, "t.is_email_sent = ?")
		args = append(args, *query.EMailSent)
	}
	if len(query.ActivityStates) > 0 || query.ExcludeCompletedHosts {
		where = append(where, "a.key IS NOT NULL")
	}
	if len(query.ActivityStates) > 0 {
		var clause string
		clause, args = inClause("a.state", query.ActivityStates, args)
		where = append(where, clause)
	}
	if query.ExcludeCompletedHosts {
		where = append(where, "(h.key IS NULL OR h.state <> ?)")
		args = append(args, string(runtime.ActivityStateCompleted))
	}
	from := " FROM task_instance t" +
		" LEFT JOIN activity_instance a ON a.key = t.activity_instance_key" +
		" LEFT JOIN activity_instance h ON h.key = a.mi_host_activity_instance_key" +
		" WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(1)"+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	limit := -1
	if query.Limit > 0 {
		limit = query.Limit
	}
	pageArgs := append(append([]any{}, args...), limit, max(query.Offset, 0))
	tasks, err := r.queryTasks(ctx, "SELECT "+selectList("t", taskInstanceColumns)+from+" ORDER BY t.key DESC LIMIT ? OFFSET ?", pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *reader) queryTasks(ctx context.Context, query string, args ...any) ([]runtime.TaskInstance, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	defer rows.Close()
	res := make([]runtime.TaskInstance, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, task)
	}
	return res, rows.Err()
}

func scanTransitionInstance(row scanner) (runtime.TransitionInstance, error) {
	var ti runtime.TransitionInstance
	var createdAt int64
	err := row.Scan(&ti.Key, &ti.ProcessInstanceKey, &ti.TransitionGUID,
		&ti.FromActivityInstanceKey, &ti.FromActivityGUID, &ti.ToActivityInstanceKey, &ti.ToActivityGUID,
		&ti.TransitionType, &ti.FlyingType, &ti.CreatedByUserID, &ti.CreatedByUserName, &createdAt)
	if err != nil {
		return ti, err
	}
	ti.CreatedAt = fromMicros(createdAt)
	return ti, nil
}

func (r *reader) FindTransitionInstanceByKey(ctx context.Context, transitionInstanceKey int64) (runtime.TransitionInstance, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+selectList("", transitionInstanceColumns)+" FROM transition_instance WHERE key = ?", transitionInstanceKey)
	ti, err := scanTransitionInstance(row)
	if err != nil {
		return ti, fmt.Errorf("failed to find transition instance %d: %w", transitionInstanceKey, notFound(err))
	}
	return ti, nil
}

func (r *reader) FindTransitionInstances(ctx context.Context, processInstanceKey int64) ([]runtime.TransitionInstance, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+selectList("", transitionInstanceColumns)+" FROM transition_instance WHERE process_instance_key = ? ORDER BY key", processInstanceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find transition instances of %d: %w", processInstanceKey, err)
	}
	defer rows.Close()
	res := make([]runtime.TransitionInstance, 0)
	for rows.Next() {
		ti, err := scanTransitionInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ti)
	}
	return res, rows.Err()
}

var _ storage.Writer = &Tx{}

func (t *Tx) SaveProcessInstance(ctx context.Context, pi runtime.ProcessInstance) error {
	_, err := t.tx.ExecContext(ctx, upsert("process_instance", processInstanceColumns),
		pi.Key, pi.ProcessGUID, pi.Version, pi.AppName, pi.AppInstanceID, string(pi.State),
		toNullInt64(pi.ParentProcessInstanceKey), toNullInt64(pi.InvokedActivityInstanceKey),
		pi.CreatedByUserID, pi.CreatedByUserName, toMicros(pi.CreatedAt),
		pi.EndedByUserID, pi.EndedByUserName, toNullMicros(pi.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to save process instance %d: %w", pi.Key, err)
	}
	return nil
}

func (t *Tx) DeleteProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return t.delete(ctx, "process_instance", processInstanceKey)
}

func (t *Tx) SaveActivityInstance(ctx context.Context, ai runtime.ActivityInstance) error {
	_, err := t.tx.ExecContext(ctx, upsert("activity_instance", activityInstanceColumns),
		ai.Key, ai.ProcessInstanceKey, ai.AppName, ai.AppInstanceID, ai.ProcessGUID,
		ai.ActivityGUID, ai.ActivityName, string(ai.ActivityType), string(ai.GatewayDirection), string(ai.State),
		string(ai.ComplexType), string(ai.MergeType), string(ai.CompareType), string(ai.SignForwardType), toNullFloat64(ai.CompleteOrder),
		toNullInt64(ai.MIHostActivityInstanceKey), ai.AssignedToUserIDs, ai.AssignedToUserNames,
		ai.TokensRequired, ai.TokensHad,
		ai.CreatedByUserID, ai.CreatedByUserName, toMicros(ai.CreatedAt),
		ai.EndedByUserID, ai.EndedByUserName, toNullMicros(ai.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to save activity instance %d: %w", ai.Key, err)
	}
	return nil
}

func (t *Tx) DeleteActivityInstance(ctx context.Context, activityInstanceKey int64) error {
	return t.delete(ctx, "activity_instance", activityInstanceKey)
}

func (t *Tx) SaveTask(ctx context.Context, task runtime.TaskInstance) error {
	_, err := t.tx.ExecContext(ctx, upsert("task_instance", taskInstanceColumns),
		task.Key, task.ActivityInstanceKey, task.ProcessInstanceKey, task.AppName, task.AppInstanceID,
		task.ProcessGUID, task.ActivityGUID, task.ActivityName, task.AssignedToUserID, task.AssignedToUserName,
		string(task.State), task.IsEMailSent,
		task.CreatedByUserID, task.CreatedByUserName, toMicros(task.CreatedAt),
		task.LastUpdatedByUserID, task.LastUpdatedByUserName, toNullMicros(task.LastUpdatedAt),
		task.EndedByUserID, task.EndedByUserName, toNullMicros(task.EndedAt), toNullInt64(task.EntrustedTaskKey))
	if err != nil {
		return fmt.Errorf("failed to save task %d: %w", task.Key, err)
	}
	return nil
}

func (t *Tx) DeleteTask(ctx context.Context, taskKey int64) error {
	return t.delete(ctx, "task_instance", taskKey)
}

func (t *Tx) SaveTransitionInstance(ctx context.Context, ti runtime.TransitionInstance) error {
	_, err := t.tx.ExecContext(ctx, upsert("transition_instance", transitionInstanceColumns),
		ti.Key, ti.ProcessInstanceKey, ti.TransitionGUID,
		ti.FromActivityInstanceKey, ti.FromActivityGUID, ti.ToActivityInstanceKey, ti.ToActivityGUID,
		string(ti.TransitionType), string(ti.FlyingType), ti.CreatedByUserID, ti.CreatedByUserName, toMicros(ti.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save transition instance %d: %w", ti.Key, err)
	}
	return nil
}

func (t *Tx) DeleteTransitionInstance(ctx context.Context, transitionInstanceKey int64) error {
	return t.delete(ctx, "transition_instance", transitionInstanceKey)
}

func (t *Tx) delete(ctx context.Context, table string, key int64) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", table, key, err)
	}
	return nil
}
