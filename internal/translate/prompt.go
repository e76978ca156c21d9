// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import "fmt"

const promptTemplate = `### Instructions:
Your task is to convert a question into a SQL query, given a database schema.
Adhere to these rules:
- **Deliberately go through the question and database schema word by word** to appropriately answer the question
- **Use Table Aliases** to prevent ambiguity. For example, ` + "`SELECT table1.col1, table2.col1 FROM table1 JOIN table2 ON table1.id = table2.id`" + `.
- When creating a ratio, always cast the numerator as float
- Return exactly one read-only statement terminated by a semicolon

### Input:
Generate a SQL query that answers the question ` + "`%s`" + `.
This query will run on a database whose schema is represented in this string:
%s

### Response:
Based on your instructions, here is the SQL query I have generated to answer the question ` + "`%s`" + `:
` + "```sql\n"

// Prompt renders the SQL-coder prompt shared by every text backend.
func Prompt(req Request) string {
	return fmt.Sprintf(promptTemplate, req.Question, req.SchemaText, req.Question)
}
