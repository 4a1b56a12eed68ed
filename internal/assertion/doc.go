// Package assertion evaluates response assertions.
//
// Four variants are supported: status_code, json_path (alias response_body),
// smart_match and node. Node assertions check a whole subtree in one of four
// modes: all_fields, template, auto_generate and smart.
//
// When a data row carries expected_* fields instead of an explicit list,
// assertions are inferred from the field names:
//
//	expected_status=200            status_code 200
//	expected_age_greater_than=18   json_path $.data.age greater_than 18
//	expected_items_0_name=x        json_path $.items[0].name equal "x"
//	expected_node_user={...}       node $.user all_fields
package assertion
