/*
Package dsl provides a Go DSL for programmatically constructing process definitions.

It allows developers to define flows with a type-safe, fluent builder instead of
hand-writing domain.ProcessDefinition literals. Build validates the result.

Example usage:

	def, err := dsl.New("booking").
		Add("start").Start().Go("book").
		Add("book").Service("book-hotel").CompensateWith("cancel").Go("pay").
		Add("cancel").Service("cancel-hotel").ForCompensation().
		Add("pay").Task("Pay").Go("end").
		Add("end").End().
		Done().Build()

ActivityBuilder.Add continues with the next activity; Done returns to the Builder.
Parse reads the same definitions from YAML files.
*/
package dsl
