package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gt3pedia/backend/core/csql"
	"github.com/gt3pedia/backend/core/logger"
)

// errNothingToPersist is returned by a collection insert when the filtered
// payload has no declared fields left
var errNothingToPersist = errors.New("nothing to persist")

// collectionHelper gives the non-generic parts of the backend (seeding,
// cross-resource search) access to a collection without going through HTTP
type collectionHelper struct {
	count  func() (int64, error)
	insert func(body map[string]interface{}) (int64, error)
	search func(needle string, limit int) ([]searchItem, error)
}

func sqlType(fieldType string) string {
	switch fieldType {
	case "int":
		return "INTEGER"
	case "float":
		return "REAL"
	default:
		return "TEXT"
	}
}

// createCollectionResource realizes one generic catalog resource from its
// descriptor: it bootstraps the table and installs the five REST
// operations. The descriptor is immutable; everything derived from it here
// is computed once and shared by all requests.
func (b *Backend) createCollectionResource(rc collectionConfiguration) {
	resource := rc.Resource

	nillog := logger.Default()
	nillog.Debugln("create collection:", resource)
	if rc.Description != "" {
		nillog.Debugln("  description:", rc.Description)
	}

	columns := make([]string, 0, len(rc.Fields))
	columnTypes := make(map[string]string, len(rc.Fields))
	for _, field := range rc.Fields {
		columns = append(columns, field.Name)
		columnTypes[field.Name] = field.Type
	}
	jsonSet := make(map[string]bool, len(rc.JSONFields))
	for _, name := range rc.JSONFields {
		jsonSet[name] = true
	}

	defaultOrder := rc.DefaultOrder
	if defaultOrder == "" {
		defaultOrder = "id DESC"
	}

	var createColumns []string
	createColumns = append(createColumns, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, field := range rc.Fields {
		createColumns = append(createColumns, field.Name+" "+sqlType(field.Type))
	}
	createColumns = append(createColumns, "created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP")
	createColumns = append(createColumns, "updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP")

	createQuery := fmt.Sprintf("CREATE TABLE IF NOT EXISTS \"%s\" (%s);", resource, strings.Join(createColumns, ", "))
	if _, err := b.db.Exec(createQuery); err != nil {
		nillog.WithError(err).Errorf("cannot create table for %s", resource)
		panic("invalid configuration")
	}

	// table evolution: re-issue ALTER TABLE for every declared column so
	// that descriptors can grow columns across releases. The benign
	// "duplicate column name" complaint is the expected steady state.
	for _, field := range rc.Fields {
		alterQuery := fmt.Sprintf("ALTER TABLE \"%s\" ADD COLUMN %s %s;", resource, field.Name, sqlType(field.Type))
		if _, err := b.db.Exec(alterQuery); err != nil && !csql.IsDuplicateColumn(err) {
			nillog.WithError(err).Errorf("cannot evolve table for %s", resource)
			panic("invalid configuration")
		}
	}

	readQuery := "SELECT id, " + strings.Join(columns, ", ") + ", created_at, updated_at FROM \"" + resource + "\" "
	insertPrefix := "INSERT INTO \"" + resource + "\" "
	updatePrefix := "UPDATE \"" + resource + "\" SET "
	deleteQuery := "DELETE FROM \"" + resource + "\" WHERE id = ?"
	existsQuery := "SELECT id FROM \"" + resource + "\" WHERE id = ?"
	countQuery := "SELECT COUNT(*) FROM \"" + resource + "\""

	// createScanValuesAndObject returns scan targets for one row of the
	// collection plus the object mapping column names to those targets
	createScanValuesAndObject := func() ([]interface{}, map[string]interface{}) {
		values := make([]interface{}, len(columns)+3)
		object := make(map[string]interface{}, len(columns)+3)
		values[0] = new(int64)
		object["id"] = values[0]
		for i, key := range columns {
			switch columnTypes[key] {
			case "int":
				values[i+1] = new(sql.NullInt64)
			case "float":
				values[i+1] = new(sql.NullFloat64)
			default:
				values[i+1] = new(sql.NullString)
			}
			object[key] = values[i+1]
		}
		values[len(columns)+1] = new(string)
		object["created_at"] = values[len(columns)+1]
		values[len(columns)+2] = new(string)
		object["updated_at"] = values[len(columns)+2]
		return values, object
	}

	// normalizeObject flattens the scan targets into the client
	// representation: nulls become JSON null, embedded documents are
	// decoded. A stored document that no longer decodes stays raw text
	// rather than failing the request.
	normalizeObject := func(object map[string]interface{}) map[string]interface{} {
		response := make(map[string]interface{}, len(object))
		for key, value := range object {
			switch typed := value.(type) {
			case *int64:
				response[key] = *typed
			case *string:
				response[key] = *typed
			case *sql.NullInt64:
				if typed.Valid {
					response[key] = typed.Int64
				} else {
					response[key] = nil
				}
			case *sql.NullFloat64:
				if typed.Valid {
					response[key] = typed.Float64
				} else {
					response[key] = nil
				}
			case *sql.NullString:
				if !typed.Valid {
					response[key] = nil
					break
				}
				if jsonSet[key] && typed.String != "" {
					var document interface{}
					if err := json.Unmarshal([]byte(typed.String), &document); err == nil {
						response[key] = document
						break
					}
				}
				response[key] = typed.String
			}
		}
		return response
	}

	// normalizeValue coerces one client-supplied value for storage. The
	// policy is deliberately permissive: empty and unparsable input
	// collapses to a stored null, it is never rejected.
	normalizeValue := func(key string, value interface{}) interface{} {
		if value == nil {
			return nil
		}
		if s, isString := value.(string); isString && s == "" {
			return nil
		}
		if jsonSet[key] {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil
			}
			return string(encoded)
		}
		switch columnTypes[key] {
		case "int":
			switch typed := value.(type) {
			case float64:
				return int64(typed)
			case string:
				if n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
					return n
				}
				if f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
					return int64(f)
				}
				return nil
			default:
				return nil
			}
		case "float":
			switch typed := value.(type) {
			case float64:
				return typed
			case string:
				if f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
					return f
				}
				return nil
			default:
				return nil
			}
		default: // text
			switch typed := value.(type) {
			case string:
				return typed
			case float64:
				return strconv.FormatFloat(typed, 'f', -1, 64)
			default:
				return nil
			}
		}
	}

	// pickFields filters client input down to the declared fields.
	// Undeclared fields are dropped, never stored.
	pickFields := func(body map[string]interface{}) map[string]interface{} {
		payload := map[string]interface{}{}
		for _, key := range columns {
			value, present := body[key]
			if !present {
				continue
			}
			payload[key] = normalizeValue(key, value)
		}
		return payload
	}

	readOne := func(id int64) (map[string]interface{}, error) {
		values, object := createScanValuesAndObject()
		err := b.db.QueryRow(readQuery+"WHERE id = ?", id).Scan(values...)
		if err != nil {
			return nil, err
		}
		return normalizeObject(object), nil
	}

	list := func(w http.ResponseWriter, r *http.Request) {
		urlQuery := r.URL.Query()
		var queryParameters []interface{}
		sqlQuery := readQuery

		if q := urlQuery.Get("q"); q != "" && len(rc.SearchColumns) > 0 {
			needle := "%" + strings.ToLower(q) + "%"
			likes := make([]string, len(rc.SearchColumns))
			for i, column := range rc.SearchColumns {
				likes[i] = "LOWER(" + column + ") LIKE ?"
				queryParameters = append(queryParameters, needle)
			}
			sqlQuery += "WHERE " + strings.Join(likes, " OR ") + " "
		}
		sqlQuery += "ORDER BY " + defaultOrder

		limit, offset := parsePagination(urlQuery)
		if limit > 0 {
			sqlQuery += " LIMIT ?"
			queryParameters = append(queryParameters, limit)
		}
		if offset > 0 {
			if limit <= 0 {
				// offset without limit skips rows and returns the rest;
				// sqlite requires the unbounded sentinel before OFFSET
				sqlQuery += " LIMIT -1"
			}
			sqlQuery += " OFFSET ?"
			queryParameters = append(queryParameters, offset)
		}

		rows, err := b.db.Query(sqlQuery, queryParameters...)
		if err != nil {
			writeInternalError(w, r, 4721, err)
			return
		}
		defer rows.Close()
		response := []interface{}{}
		for rows.Next() {
			values, object := createScanValuesAndObject()
			if err := rows.Scan(values...); err != nil {
				writeInternalError(w, r, 4725, err)
				return
			}
			response = append(response, normalizeObject(object))
		}
		writeJSON(w, http.StatusOK, response)
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		object, err := readOne(id)
		if err == csql.ErrNoRows {
			writeMessage(w, http.StatusNotFound, "record not found")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4727, err)
			return
		}
		writeJSON(w, http.StatusOK, object)
	}

	insert := func(body map[string]interface{}) (int64, error) {
		payload := pickFields(body)
		if len(payload) == 0 {
			return 0, errNothingToPersist
		}
		var insertColumns []string
		var values []interface{}
		for _, key := range columns {
			value, present := payload[key]
			if !present {
				continue
			}
			insertColumns = append(insertColumns, key)
			values = append(values, value)
		}
		insertQuery := insertPrefix + "(" + strings.Join(insertColumns, ", ") + ") VALUES(" + parameterString(len(insertColumns)) + ")"
		result, err := b.db.Exec(insertQuery, values...)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}
		id, err := insert(body)
		if err == errNothingToPersist {
			writeMessage(w, http.StatusBadRequest, "nothing to persist")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4731, err)
			return
		}
		// re-read so the response reflects exactly what the store now
		// holds, defaults included
		object, err := readOne(id)
		if err != nil {
			writeInternalError(w, r, 4732, err)
			return
		}
		writeJSON(w, http.StatusCreated, object)
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		var current int64
		err := b.db.QueryRow(existsQuery, id).Scan(&current)
		if err == csql.ErrNoRows {
			writeMessage(w, http.StatusNotFound, "record not found")
			return
		}
		if err != nil {
			writeInternalError(w, r, 4735, err)
			return
		}
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}
		// partial update: only fields present in the input change,
		// omitted fields are left untouched
		payload := pickFields(body)
		if len(payload) == 0 {
			writeMessage(w, http.StatusBadRequest, "nothing to update")
			return
		}
		var sets []string
		var values []interface{}
		for _, key := range columns {
			value, present := payload[key]
			if !present {
				continue
			}
			sets = append(sets, key+" = ?")
			values = append(values, value)
		}
		values = append(values, id)
		updateQuery := updatePrefix + strings.Join(sets, ", ") + ", updated_at = CURRENT_TIMESTAMP WHERE id = ?"
		if _, err := b.db.Exec(updateQuery, values...); err != nil {
			writeInternalError(w, r, 4736, err)
			return
		}
		object, err := readOne(id)
		if err != nil {
			writeInternalError(w, r, 4737, err)
			return
		}
		writeJSON(w, http.StatusOK, object)
	}

	remove := func(w http.ResponseWriter, r *http.Request) {
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		result, err := b.db.Exec(deleteQuery, id)
		if err != nil {
			writeInternalError(w, r, 4741, err)
			return
		}
		count, err := result.RowsAffected()
		if err != nil {
			writeInternalError(w, r, 4742, err)
			return
		}
		if count == 0 {
			writeMessage(w, http.StatusNotFound, "record not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}

	// summarize produces the short grouped-search items for this
	// collection: the first search column is the title, the remaining
	// ones join into the subtitle
	summarize := func(needle string, limit int) ([]searchItem, error) {
		items := []searchItem{}
		if len(rc.SearchColumns) == 0 {
			return items, nil
		}
		likes := make([]string, len(rc.SearchColumns))
		queryParameters := make([]interface{}, 0, len(rc.SearchColumns)+1)
		for i, column := range rc.SearchColumns {
			likes[i] = "LOWER(" + column + ") LIKE ?"
			queryParameters = append(queryParameters, needle)
		}
		queryParameters = append(queryParameters, limit)
		sqlQuery := readQuery + "WHERE " + strings.Join(likes, " OR ") + " ORDER BY " + defaultOrder + " LIMIT ?"
		rows, err := b.db.Query(sqlQuery, queryParameters...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			values, object := createScanValuesAndObject()
			if err := rows.Scan(values...); err != nil {
				return nil, err
			}
			response := normalizeObject(object)
			var parts []string
			for _, column := range rc.SearchColumns {
				if s := stringifySummary(response[column]); s != "" {
					parts = append(parts, s)
				}
			}
			title := "Untitled"
			subtitle := ""
			if len(parts) > 0 {
				title = parts[0]
				subtitle = strings.Join(parts[1:], " • ")
			}
			items = append(items, searchItem{
				ID:       *(values[0].(*int64)),
				Title:    title,
				Subtitle: subtitle,
				Href:     resource + ".html",
				Type:     singular(resource),
			})
		}
		return items, nil
	}

	b.collectionHelper[resource] = &collectionHelper{
		count: func() (int64, error) {
			var count int64
			err := b.db.QueryRow(countQuery).Scan(&count)
			return count, err
		},
		insert: insert,
		search: summarize,
	}

	listRoute := "/" + resource
	itemRoute := "/" + resource + "/{id}"
	nillog.Debugln("  handle collection routes:", listRoute, "GET,POST")
	nillog.Debugln("  handle collection routes:", itemRoute, "GET,PUT,DELETE")

	b.router.Handle(listRoute, b.public(list)).Methods(http.MethodGet)
	b.router.Handle(itemRoute, b.public(read)).Methods(http.MethodGet)
	b.router.Handle(listRoute, b.guarded(create)).Methods(http.MethodPost)
	b.router.Handle(itemRoute, b.guarded(update)).Methods(http.MethodPut)
	b.router.Handle(itemRoute, b.guarded(remove)).Methods(http.MethodDelete)
}
